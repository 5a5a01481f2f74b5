package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
)

// PostgresStore is the production Store backend: Postgres via pgx, plain
// SQL, jsonb columns for config/metadata/content, grounded on the house
// repository style (one struct wrapping a pool, one query per method, no
// ORM). AppendCommands loads the dataflow's current node/data rows inside
// one transaction, replays the batch through the shared command
// interpreter (interpreter.go), then upserts the resulting rows and the
// new command-log entries before committing — so Postgres and MemoryStore
// can never disagree on what a command batch means.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateDataflow(ctx context.Context, df *model.Dataflow) error {
	metaJSON, err := json.Marshal(df.Metadata)
	if err != nil {
		return model.WrapError(model.ErrInvalidPayload, err, "marshal dataflow metadata")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dataflows (id, owner, status, created_at, updated_at, parent_id, metadata_json)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, df.ID, df.Owner, df.Status, df.CreatedAt, df.UpdatedAt, df.ParentID, metaJSON)
	if err != nil {
		return model.WrapError(model.ErrBackend, err, "insert dataflow %s", df.ID)
	}
	return nil
}

func (s *PostgresStore) GetDataflow(ctx context.Context, id string) (*model.Dataflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner, status, created_at, updated_at, COALESCE(parent_id, ''), metadata_json
		FROM dataflows WHERE id = $1
	`, id)
	df := &model.Dataflow{}
	var metaJSON []byte
	if err := row.Scan(&df.ID, &df.Owner, &df.Status, &df.CreatedAt, &df.UpdatedAt, &df.ParentID, &metaJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", id)
		}
		return nil, model.WrapError(model.ErrBackend, err, "get dataflow %s", id)
	}
	_ = json.Unmarshal(metaJSON, &df.Metadata)
	return df, nil
}

func (s *PostgresStore) UpdateDataflowStatus(ctx context.Context, dataflowID string, status model.DataflowStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dataflows SET status = $1, updated_at = $2 WHERE id = $3
	`, status, time.Now(), dataflowID)
	if err != nil {
		return model.WrapError(model.ErrBackend, err, "update dataflow %s status", dataflowID)
	}
	if tag.RowsAffected() == 0 {
		return model.NewError(model.ErrNotFound, "dataflow %s not found", dataflowID)
	}
	return nil
}

func (s *PostgresStore) ListDataflows(ctx context.Context, filter model.ListFilter) ([]*model.Dataflow, error) {
	limit, offset := model.ClampPage(filter.Limit, filter.Offset)
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner, status, created_at, updated_at, COALESCE(parent_id, ''), metadata_json
		FROM dataflows
		WHERE ($1 = '' OR owner = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at ASC
		LIMIT $3 OFFSET $4
	`, filter.Owner, filter.Status, limit, offset)
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "list dataflows")
	}
	defer rows.Close()

	var out []*model.Dataflow
	for rows.Next() {
		df := &model.Dataflow{}
		var metaJSON []byte
		if err := rows.Scan(&df.ID, &df.Owner, &df.Status, &df.CreatedAt, &df.UpdatedAt, &df.ParentID, &metaJSON); err != nil {
			return nil, model.WrapError(model.ErrBackend, err, "scan dataflow")
		}
		_ = json.Unmarshal(metaJSON, &df.Metadata)
		out = append(out, df)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetNode(ctx context.Context, dataflowID, id string) (*model.Node, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, dataflow_id, type, COALESCE(parent_id, ''), ancestor_path_json, status, config_json, metadata_json
		FROM nodes WHERE dataflow_id = $1 AND id = $2
	`, dataflowID, id)
	return scanNode(row)
}

func (s *PostgresStore) ListNodes(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataflow_id, type, COALESCE(parent_id, ''), ancestor_path_json, status, config_json, metadata_json
		FROM nodes
		WHERE dataflow_id = $1 AND ($2 = '' OR parent_id = $2) AND ($3 = '' OR status = $3)
	`, dataflowID, filter.ParentID, filter.Status)
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "list nodes")
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*model.Node, error) {
	n := &model.Node{}
	var ancestorJSON, configJSON, metaJSON []byte
	if err := row.Scan(&n.ID, &n.DataflowID, &n.Type, &n.ParentNodeID, &ancestorJSON, &n.Status, &configJSON, &metaJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NewError(model.ErrNotFound, "node not found")
		}
		return nil, model.WrapError(model.ErrBackend, err, "scan node")
	}
	_ = json.Unmarshal(ancestorJSON, &n.AncestorPath)
	_ = json.Unmarshal(configJSON, &n.Config)
	_ = json.Unmarshal(metaJSON, &n.Metadata)
	return n, nil
}

func (s *PostgresStore) GetData(ctx context.Context, dataflowID, id string, resolveReferences bool) (*model.Data, error) {
	d, err := s.getDataRow(ctx, dataflowID, id)
	if err != nil {
		return nil, err
	}
	if resolveReferences && d.IsReference() {
		targetID, _ := d.Content.(string)
		target, err := s.getDataRow(ctx, dataflowID, targetID)
		if err != nil {
			return nil, err
		}
		if target.IsReference() {
			return nil, model.NewError(model.ErrInvalidInputStructure, "reference chains longer than 1 hop are not followed")
		}
		return target, nil
	}
	return d, nil
}

func (s *PostgresStore) getDataRow(ctx context.Context, dataflowID, id string) (*model.Data, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, dataflow_id, data_type, COALESCE(node_id, ''), COALESCE(key, ''), content_blob, content_type, COALESCE(discriminator, ''), metadata_json
		FROM data WHERE dataflow_id = $1 AND id = $2
	`, dataflowID, id)
	return scanData(row)
}

func (s *PostgresStore) ListData(ctx context.Context, dataflowID string, filter model.ListFilter) ([]*model.Data, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, dataflow_id, data_type, COALESCE(node_id, ''), COALESCE(key, ''), content_blob, content_type, COALESCE(discriminator, ''), metadata_json
		FROM data
		WHERE dataflow_id = $1 AND ($2 = '' OR node_id = $2) AND ($3 = '' OR data_type = $3) AND ($4 = '' OR key = $4)
	`, dataflowID, filter.NodeID, filter.DataType, filter.Key)
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "list data")
	}
	defer rows.Close()

	var out []*model.Data
	for rows.Next() {
		d, err := scanData(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanData(row rowScanner) (*model.Data, error) {
	d := &model.Data{}
	var contentJSON, metaJSON []byte
	if err := row.Scan(&d.ID, &d.DataflowID, &d.DataType, &d.NodeID, &d.Key, &contentJSON, &d.ContentType, &d.Discriminator, &metaJSON); err != nil {
		if err == pgx.ErrNoRows {
			return nil, model.NewError(model.ErrNotFound, "data not found")
		}
		return nil, model.WrapError(model.ErrBackend, err, "scan data")
	}
	_ = json.Unmarshal(contentJSON, &d.Content)
	_ = json.Unmarshal(metaJSON, &d.Metadata)
	return d, nil
}

func (s *PostgresStore) LastSequence(ctx context.Context, dataflowID string) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commands WHERE dataflow_id = $1`, dataflowID).Scan(&seq)
	if err != nil {
		return 0, model.WrapError(model.ErrBackend, err, "last sequence")
	}
	return seq, nil
}

func (s *PostgresStore) ReplayCommands(ctx context.Context, dataflowID string, afterSeq int64) ([]model.Command, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT dataflow_id, seq, type, payload_json, applied_at
		FROM commands WHERE dataflow_id = $1 AND seq > $2 ORDER BY seq ASC
	`, dataflowID, afterSeq)
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "replay commands")
	}
	defer rows.Close()

	var out []model.Command
	for rows.Next() {
		var c model.Command
		var payloadJSON []byte
		var appliedAt time.Time
		if err := rows.Scan(&c.DataflowID, &c.Seq, &c.Type, &payloadJSON, &appliedAt); err != nil {
			return nil, model.WrapError(model.ErrBackend, err, "scan command")
		}
		_ = json.Unmarshal(payloadJSON, &c.Payload)
		c.AppliedAt = &appliedAt
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTemplatePatch(ctx context.Context, dataflowID, parentNodeID string) ([]map[string]any, bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload_json FROM commands
		WHERE dataflow_id = $1 AND type = $2 AND payload_json->>'parent_node_id' = $3
		ORDER BY seq DESC LIMIT 1
	`, dataflowID, model.CommandApplyTemplatePatch, parentNodeID)
	if err != nil {
		return nil, false, model.WrapError(model.ErrBackend, err, "get template patch")
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var payloadJSON []byte
	if err := rows.Scan(&payloadJSON); err != nil {
		return nil, false, model.WrapError(model.ErrBackend, err, "scan template patch")
	}
	var payload struct {
		Operations []map[string]any `json:"operations"`
	}
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, false, model.WrapError(model.ErrInvalidPayload, err, "unmarshal template patch")
	}
	return payload.Operations, true, nil
}

// AppendCommands implements the CAS'd single write primitive against
// Postgres: one transaction loads the dataflow's nodes/data/patches,
// replays the batch through the shared interpreter, and upserts the
// result plus the new command-log rows.
func (s *PostgresStore) AppendCommands(ctx context.Context, dataflowID string, sequenceExpected int64, commands []model.Command) ([]model.Command, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "begin tx")
	}
	defer tx.Rollback(ctx)

	var current int64
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commands WHERE dataflow_id = $1 FOR UPDATE`, dataflowID).Scan(&current)
	if err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "lock sequence counter")
	}
	if current != sequenceExpected {
		return nil, model.NewError(model.ErrConflict, "sequence mismatch: expected %d, got %d", sequenceExpected, current)
	}

	nodes, items, patches, err := loadState(ctx, tx, dataflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	applied := make([]model.Command, 0, len(commands))
	for _, cmd := range commands {
		if !model.ValidCommandType(cmd.Type) {
			return nil, model.NewError(model.ErrInvalidTransition, "unknown command type %s", cmd.Type)
		}
		if err := applyCommand(nodes, items, patches, dataflowID, cmd); err != nil {
			return nil, err
		}
		current++
		cmd.Seq = current
		cmd.DataflowID = dataflowID
		appliedAt := now
		cmd.AppliedAt = &appliedAt

		payloadJSON, err := json.Marshal(cmd.Payload)
		if err != nil {
			return nil, model.WrapError(model.ErrInvalidPayload, err, "marshal command payload")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO commands (dataflow_id, seq, type, payload_json, applied_at)
			VALUES ($1, $2, $3, $4, $5)
		`, dataflowID, cmd.Seq, cmd.Type, payloadJSON, now); err != nil {
			return nil, model.WrapError(model.ErrBackend, err, "insert command")
		}
		applied = append(applied, cmd)
	}

	if err := upsertState(ctx, tx, dataflowID, nodes, items); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, model.WrapError(model.ErrBackend, err, "commit tx")
	}
	return applied, nil
}

func loadState(ctx context.Context, tx pgx.Tx, dataflowID string) (map[string]*model.Node, map[string]*model.Data, map[string][]map[string]any, error) {
	nodes := make(map[string]*model.Node)
	rows, err := tx.Query(ctx, `
		SELECT id, dataflow_id, type, COALESCE(parent_id, ''), ancestor_path_json, status, config_json, metadata_json
		FROM nodes WHERE dataflow_id = $1 FOR UPDATE
	`, dataflowID)
	if err != nil {
		return nil, nil, nil, model.WrapError(model.ErrBackend, err, "load nodes")
	}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, nil, nil, err
		}
		nodes[n.ID] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, model.WrapError(model.ErrBackend, err, "load nodes")
	}

	items := make(map[string]*model.Data)
	drows, err := tx.Query(ctx, `
		SELECT id, dataflow_id, data_type, COALESCE(node_id, ''), COALESCE(key, ''), content_blob, content_type, COALESCE(discriminator, ''), metadata_json
		FROM data WHERE dataflow_id = $1 FOR UPDATE
	`, dataflowID)
	if err != nil {
		return nil, nil, nil, model.WrapError(model.ErrBackend, err, "load data")
	}
	for drows.Next() {
		d, err := scanData(drows)
		if err != nil {
			drows.Close()
			return nil, nil, nil, err
		}
		items[d.ID] = d
	}
	drows.Close()
	if err := drows.Err(); err != nil {
		return nil, nil, nil, model.WrapError(model.ErrBackend, err, "load data")
	}

	patches := make(map[string][]map[string]any)
	prows, err := tx.Query(ctx, `
		SELECT DISTINCT ON (payload_json->>'parent_node_id') payload_json
		FROM commands WHERE dataflow_id = $1 AND type = $2
		ORDER BY payload_json->>'parent_node_id', seq DESC
	`, dataflowID, model.CommandApplyTemplatePatch)
	if err != nil {
		return nil, nil, nil, model.WrapError(model.ErrBackend, err, "load template patches")
	}
	for prows.Next() {
		var payloadJSON []byte
		if err := prows.Scan(&payloadJSON); err != nil {
			prows.Close()
			return nil, nil, nil, model.WrapError(model.ErrBackend, err, "scan template patch")
		}
		var payload struct {
			ParentNodeID string           `json:"parent_node_id"`
			Operations   []map[string]any `json:"operations"`
		}
		if err := json.Unmarshal(payloadJSON, &payload); err == nil {
			patches[payload.ParentNodeID] = payload.Operations
		}
	}
	prows.Close()

	return nodes, items, patches, nil
}

func upsertState(ctx context.Context, tx pgx.Tx, dataflowID string, nodes map[string]*model.Node, items map[string]*model.Data) error {
	for _, n := range nodes {
		ancestorJSON, _ := json.Marshal(n.AncestorPath)
		configJSON, _ := json.Marshal(n.Config)
		metaJSON, _ := json.Marshal(n.Metadata)
		_, err := tx.Exec(ctx, `
			INSERT INTO nodes (id, dataflow_id, type, parent_id, ancestor_path_json, status, config_json, metadata_json)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				status = EXCLUDED.status,
				config_json = EXCLUDED.config_json,
				metadata_json = EXCLUDED.metadata_json
		`, n.ID, dataflowID, n.Type, n.ParentNodeID, ancestorJSON, n.Status, configJSON, metaJSON)
		if err != nil {
			return model.WrapError(model.ErrBackend, err, "upsert node %s", n.ID)
		}
	}
	for _, d := range items {
		contentJSON, _ := json.Marshal(d.Content)
		metaJSON, _ := json.Marshal(d.Metadata)
		_, err := tx.Exec(ctx, `
			INSERT INTO data (id, dataflow_id, node_id, data_type, key, content_blob, content_type, discriminator, metadata_json)
			VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9)
			ON CONFLICT (id) DO NOTHING
		`, d.ID, dataflowID, d.NodeID, d.DataType, d.Key, contentJSON, d.ContentType, d.Discriminator, metaJSON)
		if err != nil {
			return model.WrapError(model.ErrBackend, err, "upsert data %s", d.ID)
		}
	}
	return nil
}
