package model

import "github.com/google/uuid"

// NewID returns a fresh, time-sortable identifier for a dataflow, node, data
// item, or command. uuid v7 (RFC 9562) embeds a millisecond timestamp in its
// high bits, so identifiers generated in order sort lexically in order -
// the property §3 calls out for command identifiers and that the rest of
// the model benefits from equally.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Extremely unlikely (entropy source failure); v4 still gives a
		// valid unique identifier, just without the sortable prefix.
		return uuid.NewString()
	}
	return id.String()
}
