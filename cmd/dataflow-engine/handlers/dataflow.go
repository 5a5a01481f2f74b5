// Package handlers implements the thin HTTP surface over the engine's
// client façade (§6), grounded on the teacher's cmd/orchestrator/handlers
// package: bind a request, delegate to the façade or store, translate
// engine errors to the {success, error} envelope.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	authmw "github.com/lyzr/dataflow-engine/cmd/dataflow-engine/middleware"
	"github.com/lyzr/dataflow-engine/common/logger"
	"github.com/lyzr/dataflow-engine/internal/dataflow/client"
	"github.com/lyzr/dataflow-engine/internal/dataflow/model"
	"github.com/lyzr/dataflow-engine/internal/dataflow/patch"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// DataflowHandler serves the dataflow CRUD/execute/cancel/patch routes.
type DataflowHandler struct {
	store     store.Store
	client    *client.Client
	validator *patch.Validator
	logger    *logger.Logger
}

// NewDataflowHandler constructs a DataflowHandler.
func NewDataflowHandler(st store.Store, c *client.Client, log *logger.Logger) *DataflowHandler {
	return &DataflowHandler{store: st, client: c, validator: patch.NewValidator(), logger: log}
}

func fail(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]any{"success": false, "error": err.Error()})
}

func statusFor(code model.ErrorCode) int {
	switch code {
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict:
		return http.StatusConflict
	case model.ErrInvalidPayload, model.ErrInvalidPipelineStep, model.ErrMissingFuncID:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func engineFail(c echo.Context, err error) error {
	return fail(c, statusFor(model.CodeOf(err)), err)
}

// createDataflowRequest is the initial command batch plus dataflow metadata.
type createDataflowRequest struct {
	Commands []commandRequest `json:"commands"`
	Metadata map[string]any   `json:"metadata"`
}

type commandRequest struct {
	Type    model.CommandType `json:"type"`
	Payload map[string]any    `json:"payload"`
}

// CreateDataflow handles POST /dataflows.
func (h *DataflowHandler) CreateDataflow(c echo.Context) error {
	owner := authmw.Owner(c)
	var req createDataflowRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if len(req.Commands) == 0 {
		return fail(c, http.StatusBadRequest, model.NewError(model.ErrInvalidPayload, "commands must contain at least one entry"))
	}

	commands := make([]model.Command, len(req.Commands))
	for i, cr := range req.Commands {
		if !model.ValidCommandType(cr.Type) {
			return fail(c, http.StatusBadRequest, model.NewError(model.ErrInvalidPayload, "commands[%d]: unknown command type %q", i, cr.Type))
		}
		commands[i] = model.Command{Type: cr.Type, Payload: cr.Payload}
	}

	dataflowID, err := h.client.CreateWorkflow(c.Request().Context(), owner, commands)
	if err != nil {
		return engineFail(c, err)
	}
	h.logger.Info("dataflow created", "dataflow_id", dataflowID, "owner", owner)

	// Execute blocks until the dataflow reaches a terminal status; run it
	// detached from the request so creation returns immediately and the
	// caller polls GET /dataflows/{id} for progress.
	go func() {
		result, err := h.client.Execute(context.Background(), dataflowID)
		if err != nil {
			h.logger.Error("dataflow execution failed to start", "dataflow_id", dataflowID, "error", err)
			return
		}
		h.logger.Info("dataflow execution finished", "dataflow_id", dataflowID, "status", result.Status)
	}()

	return c.JSON(http.StatusCreated, map[string]any{"success": true, "dataflow_id": dataflowID})
}

// ListDataflows handles GET /dataflows?limit&offset&status.
func (h *DataflowHandler) ListDataflows(c echo.Context) error {
	owner := authmw.Owner(c)
	limit, offset := model.ClampPage(queryInt(c, "limit"), queryInt(c, "offset"))
	filter := model.ListFilter{Owner: owner, Status: c.QueryParam("status"), Limit: limit, Offset: offset}

	dataflows, err := h.store.ListDataflows(c.Request().Context(), filter)
	if err != nil {
		return engineFail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "dataflows": dataflows})
}

// GetDataflow handles GET /dataflows/{id}.
func (h *DataflowHandler) GetDataflow(c echo.Context) error {
	owner := authmw.Owner(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	df, err := h.ownedDataflow(ctx, owner, id)
	if err != nil {
		return engineFail(c, err)
	}
	nodes, err := h.store.ListNodes(ctx, id, model.ListFilter{})
	if err != nil {
		return engineFail(c, err)
	}

	resp := map[string]any{"success": true, "dataflow": df, "nodes": nodes}
	if c.QueryParam("full") == "true" {
		data, err := h.store.ListData(ctx, id, model.ListFilter{})
		if err != nil {
			return engineFail(c, err)
		}
		resp["data"] = data
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelDataflow handles POST /dataflows/{id}/cancel?timeout=30s.
func (h *DataflowHandler) CancelDataflow(c echo.Context) error {
	owner := authmw.Owner(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.ownedDataflow(ctx, owner, id); err != nil {
		return engineFail(c, err)
	}

	timeout := 30 * time.Second
	if raw := c.QueryParam("timeout"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		}
	}
	cancelCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := h.client.Cancel(cancelCtx, id); err != nil {
		return engineFail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// TerminateDataflow handles POST /dataflows/{id}/terminate.
func (h *DataflowHandler) TerminateDataflow(c echo.Context) error {
	owner := authmw.Owner(c)
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := h.ownedDataflow(ctx, owner, id); err != nil {
		return engineFail(c, err)
	}
	if err := h.client.Terminate(ctx, id); err != nil {
		return engineFail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// templatePatchRequest carries the JSON-Patch operations for one map-reduce
// node's template prototypes (§2.3).
type templatePatchRequest struct {
	Operations []map[string]any `json:"operations"`
}

// ApplyTemplatePatch handles POST /dataflows/{id}/nodes/{node_id}/template-patch.
func (h *DataflowHandler) ApplyTemplatePatch(c echo.Context) error {
	owner := authmw.Owner(c)
	id := c.Param("id")
	nodeID := c.Param("node_id")
	ctx := c.Request().Context()

	df, err := h.ownedDataflow(ctx, owner, id)
	if err != nil {
		return engineFail(c, err)
	}

	var req templatePatchRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, err)
	}
	if err := h.validator.ValidateOperations(req.Operations); err != nil {
		return engineFail(c, err)
	}

	if _, err := h.store.GetNode(ctx, id, nodeID); err != nil {
		return engineFail(c, err)
	}

	seq, err := h.store.LastSequence(ctx, id)
	if err != nil {
		return engineFail(c, err)
	}
	cmd := model.Command{
		Type: model.CommandApplyTemplatePatch,
		Payload: map[string]any{
			"parent_node_id": nodeID,
			"operations":     req.Operations,
		},
	}
	if _, err := h.store.AppendCommands(ctx, id, seq, []model.Command{cmd}); err != nil {
		return engineFail(c, err)
	}

	h.logger.Info("template patch applied", "dataflow_id", df.ID, "node_id", nodeID, "operations", len(req.Operations))
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// ownedDataflow loads a dataflow and enforces ownership: a dataflow owned
// by someone else is reported as not found, never as forbidden, so callers
// cannot probe for the existence of another owner's dataflow.
func (h *DataflowHandler) ownedDataflow(ctx context.Context, owner, id string) (*model.Dataflow, error) {
	df, err := h.store.GetDataflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if df.Owner != owner {
		return nil, model.NewError(model.ErrNotFound, "dataflow %s not found", id)
	}
	return df, nil
}

func queryInt(c echo.Context, key string) int {
	raw := c.QueryParam(key)
	if raw == "" {
		return 0
	}
	n := 0
	for _, ch := range raw {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}
