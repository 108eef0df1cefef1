package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alishams21/lineagentic-kg/application/ops"
	"github.com/alishams21/lineagentic-kg/pkg/common"
	apperrors "github.com/alishams21/lineagentic-kg/pkg/errors"
)

// Resource routes are sugar over the operation catalog: each request is
// rewritten into the synthesized operation name for its entity type or
// aspect and dispatched through the same path as /operations.

// UpsertEntity handles POST /entities/{entityType}. The body is the
// identifying (and optional) parameter object.
func (h *OperationHandler) UpsertEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	var params map[string]interface{}
	if r.ContentLength != 0 {
		if err := common.ParseJSONBody(r, &params, maxRequestBody); err != nil {
			common.RespondError(w, apperrors.NewValidationError("malformed request body").WithCause(err))
			return
		}
	}

	h.dispatch(w, r, "upsert_"+strings.ToLower(entityType), &ops.Request{Params: params})
}

// GetEntity handles GET /entities/{entityType}?urn=
func (h *OperationHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	urn := r.URL.Query().Get("urn")
	if urn == "" {
		common.RespondError(w, apperrors.NewValidationError("query parameter urn is required"))
		return
	}

	h.dispatch(w, r, "get_"+strings.ToLower(entityType), &ops.Request{EntityURN: urn})
}

// DeleteEntity handles DELETE /entities/{entityType}?urn=&cascade=
func (h *OperationHandler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	urn := r.URL.Query().Get("urn")
	if urn == "" {
		common.RespondError(w, apperrors.NewValidationError("query parameter urn is required"))
		return
	}

	h.dispatch(w, r, "delete_"+strings.ToLower(entityType), &ops.Request{
		EntityURN: urn,
		Cascade:   r.URL.Query().Get("cascade") == "true",
	})
}

// UpsertAspect handles POST /aspects/{aspectName}. The body carries
// entity_urn or owning-entity params, the aspect payload, and an optional
// timestamp for time-series aspects.
func (h *OperationHandler) UpsertAspect(w http.ResponseWriter, r *http.Request) {
	aspectName := chi.URLParam(r, "aspectName")

	var req ops.Request
	if r.ContentLength != 0 {
		if err := common.ParseJSONBody(r, &req, maxRequestBody); err != nil {
			common.RespondError(w, apperrors.NewValidationError("malformed request body").WithCause(err))
			return
		}
	}

	h.dispatch(w, r, "upsert_"+strings.ToLower(aspectName)+"_aspect", &req)
}

// GetAspect handles GET /aspects/{aspectName}?urn= with optional version
// (versioned) or from_ms/to_ms/limit (time-series) query parameters.
func (h *OperationHandler) GetAspect(w http.ResponseWriter, r *http.Request) {
	aspectName := chi.URLParam(r, "aspectName")
	query := r.URL.Query()
	urn := query.Get("urn")
	if urn == "" {
		common.RespondError(w, apperrors.NewValidationError("query parameter urn is required"))
		return
	}

	req := ops.Request{
		EntityURN:  urn,
		EntityType: query.Get("entity_type"),
		Version:    queryInt(query.Get("version")),
		FromMs:     queryInt64(query.Get("from_ms")),
		ToMs:       queryInt64(query.Get("to_ms")),
		Limit:      queryInt(query.Get("limit")),
	}
	h.dispatch(w, r, "get_"+strings.ToLower(aspectName)+"_aspect", &req)
}

// DeleteAspect handles DELETE /aspects/{aspectName}?urn=
func (h *OperationHandler) DeleteAspect(w http.ResponseWriter, r *http.Request) {
	aspectName := chi.URLParam(r, "aspectName")
	urn := r.URL.Query().Get("urn")
	if urn == "" {
		common.RespondError(w, apperrors.NewValidationError("query parameter urn is required"))
		return
	}

	h.dispatch(w, r, "delete_"+strings.ToLower(aspectName)+"_aspect", &ops.Request{
		EntityURN:  urn,
		EntityType: r.URL.Query().Get("entity_type"),
	})
}

// DescribeRegistry handles GET /registry: the loaded entity types, aspects,
// and the operation catalog synthesized from them.
func (h *OperationHandler) DescribeRegistry(w http.ResponseWriter, r *http.Request) {
	catalog := h.container.Operations()
	reg := h.container.CurrentRegistry()

	common.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_types": reg.EntityTypes(),
		"aspects":      reg.AspectNames(),
		"operations":   catalog.Names(),
	})
}

func queryInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func queryInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
