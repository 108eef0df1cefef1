package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/alishams21/lineagentic-kg/application/ops"
	"github.com/alishams21/lineagentic-kg/application/session"
	"github.com/alishams21/lineagentic-kg/infrastructure/di"
	"github.com/alishams21/lineagentic-kg/pkg/common"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

const maxRequestBody = 1 << 20 // 1 MiB

// OperationHandler exposes the synthesized operation catalog over HTTP.
// Every write and read goes through one generic dispatch endpoint; the
// catalog itself is discoverable so clients can enumerate what the
// loaded registry supports.
type OperationHandler struct {
	container *di.Container
	logger    *zap.Logger
}

// NewOperationHandler creates a new operation handler
func NewOperationHandler(container *di.Container, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		container: container,
		logger:    logger,
	}
}

// ListOperations handles GET /operations
func (h *OperationHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	catalog := h.container.Operations()
	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"operations": catalog.Descriptors(),
		"count":      len(catalog.Names()),
	})
}

// GetOperation handles GET /operations/{operationName}
func (h *OperationHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operationName")

	descriptor, err := h.container.Operations().Lookup(name)
	if err != nil {
		common.RespondError(w, err)
		return
	}

	common.RespondJSON(w, http.StatusOK, descriptor)
}

// Execute handles POST /operations/{operationName}
func (h *OperationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "operationName")

	var req ops.Request
	if r.ContentLength != 0 {
		if err := common.ParseJSONBody(r, &req, maxRequestBody); err != nil {
			common.RespondError(w, apperrors.NewValidationError("malformed request body").WithCause(err))
			return
		}
	}

	h.dispatch(w, r, name, &req)
}

// dispatch runs one catalog operation and renders the outcome. The chi
// request id doubles as the write correlation id.
func (h *OperationHandler) dispatch(w http.ResponseWriter, r *http.Request, name string, req *ops.Request) {
	start := time.Now()
	ctx := session.WithCorrelationID(r.Context(), chimiddleware.GetReqID(r.Context()))
	idempotencyKey := r.Header.Get("Idempotency-Key")

	result, err := h.container.Dispatcher().Execute(ctx, name, req, idempotencyKey)

	metrics := h.container.Metrics
	if err != nil {
		metrics.ObserveOperation(name, errorStatus(err), time.Since(start))
		common.RespondError(w, err)
		return
	}
	metrics.ObserveOperation(name, "ok", time.Since(start))
	if n := len(result.CreatedEntities); n > 0 {
		metrics.EntitiesAutoCreated.Add(float64(n))
	}
	if result.CreatedRelationships > 0 {
		metrics.EdgesCreatedTotal.Add(float64(result.CreatedRelationships))
	}
	if result.Version > 0 {
		if d, lookupErr := h.container.Operations().Lookup(name); lookupErr == nil && d.AspectName != "" {
			metrics.AspectVersions.WithLabelValues(d.AspectName).Observe(float64(result.Version))
		}
	}

	common.RespondJSON(w, executeStatus(result), result)
}

// executeStatus picks the response status for a successful dispatch.
// Upserts that materialized a brand-new entity report 201.
func executeStatus(result *ops.Result) int {
	if len(result.CreatedEntities) > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}

func errorStatus(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return string(appErr.Type)
	}
	return "INTERNAL"
}
