package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"orchex/client"
	"orchex/internal/claim"
	"orchex/internal/state"
	"orchex/internal/store"
)

// HttpRouteHandler exposes the orchestrator as a JSON API.
type HttpRouteHandler struct {
	orchestrator *client.Orchestrator
	permissions  PermissionChecker
	log          *slog.Logger
	Port         uint
}

func NewRouteHandler(orchestrator *client.Orchestrator, permissions PermissionChecker, log *slog.Logger, port uint) *HttpRouteHandler {
	if permissions == nil {
		permissions = AllowAll{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &HttpRouteHandler{
		orchestrator: orchestrator,
		permissions:  permissions,
		log:          log,
		Port:         port,
	}
}

// Routes builds the full route table on a fresh mux.
func (handler *HttpRouteHandler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /queues", handler.requirePermission("queues.write", handler.handleCreateQueue))
	mux.HandleFunc("GET /queues", handler.requirePermission("queues.read", handler.handleListQueues))
	mux.HandleFunc("GET /queues/{id}", handler.requirePermission("queues.read", handler.handleGetQueue))
	mux.HandleFunc("PUT /queues/{id}", handler.requirePermission("queues.write", handler.handleUpdateQueue))
	mux.HandleFunc("DELETE /queues/{id}", handler.requirePermission("queues.write", handler.handleDeleteQueue))

	mux.HandleFunc("POST /queues/{id}/items", handler.requirePermission("items.write", handler.handleEnqueueItem))
	mux.HandleFunc("GET /queues/{id}/items", handler.requirePermission("items.read", handler.handleListItems))
	mux.HandleFunc("POST /queues/{id}/claims", handler.requirePermission("items.claim", handler.handleClaim))
	mux.HandleFunc("GET /items/{id}", handler.requirePermission("items.read", handler.handleGetItem))
	mux.HandleFunc("POST /items/{id}/status", handler.requirePermission("items.claim", handler.handleUpdateItemStatus))
	mux.HandleFunc("POST /items/{id}/requeue", handler.requirePermission("items.write", handler.handleRequeueItem))
	mux.HandleFunc("POST /sweep", handler.requirePermission("items.write", handler.handleSweep))

	mux.HandleFunc("POST /triggers", handler.requirePermission("triggers.write", handler.handleCreateTrigger))
	mux.HandleFunc("GET /triggers", handler.requirePermission("triggers.read", handler.handleListTriggers))
	mux.HandleFunc("GET /triggers/{id}", handler.requirePermission("triggers.read", handler.handleGetTrigger))
	mux.HandleFunc("PUT /triggers/{id}", handler.requirePermission("triggers.write", handler.handleUpdateTrigger))
	mux.HandleFunc("DELETE /triggers/{id}", handler.requirePermission("triggers.write", handler.handleDeleteTrigger))
	mux.HandleFunc("POST /triggers/{id}/enable", handler.requirePermission("triggers.write", handler.handleEnableTrigger))
	mux.HandleFunc("POST /triggers/{id}/disable", handler.requirePermission("triggers.write", handler.handleDisableTrigger))

	mux.HandleFunc("POST /jobs", handler.requirePermission("jobs.write", handler.handleStartJob))
	mux.HandleFunc("GET /jobs", handler.requirePermission("jobs.read", handler.handleListJobs))
	mux.HandleFunc("GET /jobs/{id}", handler.requirePermission("jobs.read", handler.handleGetJob))
	mux.HandleFunc("POST /jobs/{id}/complete", handler.requirePermission("jobs.write", handler.handleCompleteJob))
	mux.HandleFunc("POST /jobs/{id}/fail", handler.requirePermission("jobs.write", handler.handleFailJob))

	return mux
}

func (handler *HttpRouteHandler) Serve() error {
	addr := fmt.Sprintf(":%d", handler.Port)
	handler.log.Info("api server listening", "addr", addr)
	return http.ListenAndServe(addr, handler.Routes())
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

type createQueueRequest struct {
	Name                   string `json:"name"`
	MaxRetries             int    `json:"max_retries"`
	EnforceUniqueReference bool   `json:"enforce_unique_reference"`
}

func (handler *HttpRouteHandler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	q, err := handler.orchestrator.CreateQueue(r.Context(), req.Name, req.MaxRetries, req.EnforceUniqueReference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueDTO(q))
}

func (handler *HttpRouteHandler) handleListQueues(w http.ResponseWriter, r *http.Request) {
	result, err := handler.orchestrator.ListQueues(r.Context(), getPageNumber(r), PageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(result, toQueueDTO))
}

func (handler *HttpRouteHandler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := handler.orchestrator.GetQueue(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueDTO(q))
}

type updateQueueRequest struct {
	Name       string `json:"name"`
	MaxRetries int    `json:"max_retries"`
}

func (handler *HttpRouteHandler) handleUpdateQueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateQueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	q, err := handler.orchestrator.UpdateQueue(r.Context(), id, req.Name, req.MaxRetries)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueDTO(q))
}

func (handler *HttpRouteHandler) handleDeleteQueue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := handler.orchestrator.DeleteQueue(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Items and the claim protocol
// ---------------------------------------------------------------------------

type enqueueItemRequest struct {
	Reference *string         `json:"reference,omitempty"`
	Priority  int             `json:"priority"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (handler *HttpRouteHandler) handleEnqueueItem(w http.ResponseWriter, r *http.Request) {
	queueID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req enqueueItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := handler.orchestrator.EnqueueItem(r.Context(), store.NewItem{
		QueueID:   queueID,
		Reference: req.Reference,
		Priority:  req.Priority,
		Payload:   req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toQueueItemDTO(item))
}

func (handler *HttpRouteHandler) handleListItems(w http.ResponseWriter, r *http.Request) {
	queueID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status := state.ItemStatus(r.URL.Query().Get("status"))
	result, err := handler.orchestrator.ListItems(r.Context(), queueID, status, getPageNumber(r), PageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(result, toQueueItemDTO))
}

func (handler *HttpRouteHandler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := handler.orchestrator.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemDTO(item))
}

type claimRequest struct {
	Claimant string `json:"claimant"`
	Batch    int    `json:"batch"`
}

func (handler *HttpRouteHandler) handleClaim(w http.ResponseWriter, r *http.Request) {
	queueID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items, err := handler.orchestrator.ClaimNext(r.Context(), queueID, req.Claimant, req.Batch)
	if err != nil {
		writeError(w, err)
		return
	}
	// An empty claim is a normal outcome, not an error.
	dtos := make([]queueItemDTO, 0, len(items))
	for i := range items {
		dtos = append(dtos, toQueueItemDTO(&items[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

type updateItemStatusRequest struct {
	Claimant    string          `json:"claimant"`
	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	ErrorType   string          `json:"error_type,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
}

func (handler *HttpRouteHandler) handleUpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateItemStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := handler.orchestrator.UpdateItemStatus(r.Context(), claim.UpdateRequest{
		ItemID:      id,
		Claimant:    req.Claimant,
		Status:      state.ItemStatus(req.Status),
		Output:      req.Output,
		ErrorType:   state.ErrorType(req.ErrorType),
		ErrorReason: req.ErrorReason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemDTO(item))
}

func (handler *HttpRouteHandler) handleRequeueItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := handler.orchestrator.RequeueItem(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemDTO(item))
}

type sweepRequest struct {
	QueueID int64 `json:"queue_id,omitempty"`
}

type sweepResponse struct {
	Swept int64 `json:"swept"`
}

func (handler *HttpRouteHandler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	swept, err := handler.orchestrator.Sweep(r.Context(), req.QueueID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Swept: swept})
}

// ---------------------------------------------------------------------------
// Triggers
// ---------------------------------------------------------------------------

func (handler *HttpRouteHandler) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	created, err := handler.orchestrator.CreateTrigger(r.Context(), req.toModel())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTriggerDTO(created))
}

func (handler *HttpRouteHandler) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	result, err := handler.orchestrator.ListTriggers(r.Context(), getPageNumber(r), PageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(result, toTriggerDTO))
}

func (handler *HttpRouteHandler) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, err := handler.orchestrator.GetTrigger(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerDTO(t))
}

func (handler *HttpRouteHandler) handleUpdateTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req triggerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t := req.toModel()
	t.ID = id
	updated, err := handler.orchestrator.UpdateTrigger(r.Context(), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTriggerDTO(updated))
}

func (handler *HttpRouteHandler) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := handler.orchestrator.DeleteTrigger(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (handler *HttpRouteHandler) handleEnableTrigger(w http.ResponseWriter, r *http.Request) {
	handler.changeTriggerStatus(w, r, true)
}

func (handler *HttpRouteHandler) handleDisableTrigger(w http.ResponseWriter, r *http.Request) {
	handler.changeTriggerStatus(w, r, false)
}

func (handler *HttpRouteHandler) changeTriggerStatus(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if enabled {
		err = handler.orchestrator.EnableTrigger(r.Context(), id)
	} else {
		err = handler.orchestrator.DisableTrigger(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

type startJobRequest struct {
	ProcessRef   string  `json:"process_ref"`
	WorkerRef    *string `json:"worker_ref,omitempty"`
	QueueItemIDs []int64 `json:"queue_item_ids,omitempty"`
}

func (handler *HttpRouteHandler) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := handler.orchestrator.StartJob(r.Context(), req.ProcessRef, req.WorkerRef, req.QueueItemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDTO(job))
}

func (handler *HttpRouteHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := state.JobStatus(r.URL.Query().Get("status"))
	result, err := handler.orchestrator.ListJobs(r.Context(), status, getPageNumber(r), PageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(result, toJobDTO))
}

func (handler *HttpRouteHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := handler.orchestrator.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

func (handler *HttpRouteHandler) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := handler.orchestrator.CompleteJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}

type failJobRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (handler *HttpRouteHandler) handleFailJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req failJobRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, err := handler.orchestrator.FailJob(r.Context(), id, req.ErrorMessage)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDTO(job))
}
