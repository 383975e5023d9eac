// Package hooks exposes the HTTP surface agents and hook scripts call back
// into: session CRUD, event ingestion, and out-of-band result delivery.
package hooks

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codemyspec/codemyspec/internal/apperrors"
	"github.com/codemyspec/codemyspec/internal/runtime"
	"github.com/codemyspec/codemyspec/internal/sessions"
)

// Handler serves the hook API.
type Handler struct {
	service *sessions.Service
	runtime *runtime.Registry
	logger  logr.Logger
}

// NewHandler builds the hook API handler.
func NewHandler(service *sessions.Service, reg *runtime.Registry, logger logr.Logger) *Handler {
	return &Handler{service: service, runtime: reg, logger: logger.WithName("hooks")}
}

// NewServer wires the router and returns a ready-to-run HTTP server.
func NewServer(addr string, service *sessions.Service, reg *runtime.Registry, logger logr.Logger) *http.Server {
	h := NewHandler(service, reg, logger)
	router := mux.NewRouter()

	router.HandleFunc("/healthz", h.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/v1/sessions", h.handleCreateSession).Methods("POST")
	router.HandleFunc("/v1/sessions", h.handleListSessions).Methods("GET")
	router.HandleFunc("/v1/sessions/{id}", h.handleGetSession).Methods("GET")
	router.HandleFunc("/v1/sessions/{id}/next-command", h.handleNextCommand).Methods("POST")
	router.HandleFunc("/v1/sessions/{id}/run", h.handleRun).Methods("POST")
	router.HandleFunc("/v1/sessions/{id}/events", h.handleSubmitEvents).Methods("POST")
	router.HandleFunc("/v1/sessions/{id}/events", h.handleListEvents).Methods("GET")
	router.HandleFunc("/v1/sessions/{id}/interactions/{iid}/result", h.handleSubmitResult).Methods("POST")

	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type createSessionRequest struct {
	WorkflowType  string         `json:"workflow_type"`
	Agent         string         `json:"agent"`
	Environment   string         `json:"environment"`
	ExecutionMode string         `json:"execution_mode"`
	State         map[string]any `json:"state"`
	ParentID      string         `json:"parent_id"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	session, err := h.service.CreateSession(r.Context(), scope, sessions.CreateSessionInput{
		WorkflowType:  req.WorkflowType,
		Agent:         req.Agent,
		Environment:   req.Environment,
		ExecutionMode: sessions.ExecutionMode(req.ExecutionMode),
		State:         req.State,
		ParentID:      req.ParentID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	var status *sessions.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := sessions.ParseStatus(raw)
		if !ok {
			badRequest(w, "invalid status filter")
			return
		}
		status = &parsed
	}
	list, err := h.service.ListSessions(r.Context(), scope, status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), scope, mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleNextCommand(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	var opts sessions.Options
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			badRequest(w, "invalid request body")
			return
		}
	}
	session, err := h.service.NextCommand(r.Context(), scope, mux.Vars(r)["id"], opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	var opts sessions.Options
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			badRequest(w, "invalid request body")
			return
		}
	}
	info, err := h.service.Run(r.Context(), scope, mux.Vars(r)["id"], opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"interaction_id": info.InteractionID,
		"step":           info.CommandModule,
	})
}

type submitEventsRequest struct {
	Events []sessions.EventInput `json:"events"`
}

// handleSubmitEvents accepts either a batch envelope or a single event
// object. Notification and stop hooks refresh the ephemeral runtime entry
// for the session's pending interaction before the batch is applied.
func (h *Handler) handleSubmitEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	sessionID := mux.Vars(r)["id"]

	body, err := decodeEvents(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	h.trackRuntime(r, scope, sessionID, body)

	session, err := h.service.HandleEvents(r.Context(), scope, sessionID, body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func decodeEvents(r *http.Request) ([]sessions.EventInput, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errBody
	}
	var envelope submitEventsRequest
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Events) > 0 {
		return envelope.Events, nil
	}
	var single sessions.EventInput
	if err := json.Unmarshal(raw, &single); err == nil && single.Type != "" {
		return []sessions.EventInput{single}, nil
	}
	return nil, errBody
}

var errBody = jsonError("invalid request body")

type jsonError string

func (e jsonError) Error() string { return string(e) }

func (h *Handler) trackRuntime(r *http.Request, scope sessions.Scope, sessionID string, inputs []sessions.EventInput) {
	session, err := h.service.GetSession(r.Context(), scope, sessionID)
	if err != nil {
		return
	}
	pending := session.PendingInteraction()
	if pending == nil {
		return
	}
	for _, in := range inputs {
		switch in.Type {
		case sessions.EventNotificationHook:
			message, _ := in.Data["message"].(string)
			h.runtime.Upsert(pending.ID, sessionID, func(entry *runtime.Interaction) {
				entry.LastNotification = message
				entry.AgentState = "waiting"
			})
		case sessions.EventStopHook, sessions.EventSubagentStopHook:
			h.runtime.Upsert(pending.ID, sessionID, func(entry *runtime.Interaction) {
				entry.AgentState = "stopped"
			})
		case sessions.EventSessionStart:
			conversationID, _ := in.Data["conversation_id"].(string)
			h.runtime.Upsert(pending.ID, sessionID, func(entry *runtime.Interaction) {
				entry.AgentState = "running"
				entry.ConversationID = conversationID
			})
		}
	}
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	q := sessions.EventQuery{}
	query := r.URL.Query()
	if types, present := query["type"]; present {
		for _, t := range types {
			q.Types = append(q.Types, sessions.EventType(t))
		}
	}
	if raw := query.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Limit = n
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.Offset = n
		}
	}
	q.Descending = query.Get("order") == "desc"

	events, err := h.service.ListEvents(r.Context(), scope, mux.Vars(r)["id"], q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleSubmitResult(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFrom(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	var result sessions.Result
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if result.Status == "" {
		badRequest(w, "result status is required")
		return
	}
	if result.RecordedAt.IsZero() {
		result.RecordedAt = time.Now().UTC()
	}

	session, err := h.service.SubmitResult(r.Context(), scope, vars["id"], vars["iid"], result)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// scopeFrom derives the tenancy scope from request headers. Account and user
// are mandatory; project narrows queries when present.
func (h *Handler) scopeFrom(w http.ResponseWriter, r *http.Request) (sessions.Scope, bool) {
	scope := sessions.Scope{
		AccountID: r.Header.Get("X-Account-ID"),
		UserID:    r.Header.Get("X-User-ID"),
		ProjectID: r.Header.Get("X-Project-ID"),
	}
	if scope.AccountID == "" || scope.UserID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": "X-Account-ID and X-User-ID headers are required",
		})
		return sessions.Scope{}, false
	}
	return scope, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeSessionNotFound, apperrors.ErrCodeInteractionNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeUnknownWorkflowType, apperrors.ErrCodeUnknownStep:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrCodeExecutionInProgress:
		status = http.StatusConflict
	case apperrors.ErrCodeSessionComplete, apperrors.ErrCodeSessionFailed, apperrors.ErrCodeSessionCancelled:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error(err, "request failed")
	}
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": code})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
