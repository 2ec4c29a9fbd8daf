package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/agents"
	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/model"
	"github.com/parley-ai/parley/internal/orchestrator"
	"github.com/parley-ai/parley/internal/storage"
	"github.com/parley-ai/parley/internal/stream"
)

// Handlers holds the dependencies shared by all HTTP handlers.
type Handlers struct {
	store        storage.Store
	jwtMgr       *auth.JWTManager
	orch         *orchestrator.Service
	catalog      *agents.Catalog
	logger       *slog.Logger
	version      string
	maxBodyBytes int64
	startedAt    time.Time
}

// HandlersDeps bundles the constructor arguments for NewHandlers.
type HandlersDeps struct {
	Store        storage.Store
	JWTMgr       *auth.JWTManager
	Orchestrator *orchestrator.Service
	Catalog      *agents.Catalog
	Logger       *slog.Logger
	Version      string
	MaxBodyBytes int64
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:        deps.Store,
		jwtMgr:       deps.JWTMgr,
		orch:         deps.Orchestrator,
		catalog:      deps.Catalog,
		logger:       deps.Logger,
		version:      deps.Version,
		maxBodyBytes: deps.MaxBodyBytes,
		startedAt:    time.Now(),
	}
}

// HandleAuthToken exchanges an API key for a session JWT.
// POST /auth/token
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}
	if req.UserID == "" || req.APIKey == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "userId and apiKey are required")
		return
	}

	keys, err := h.store.ActiveAPIKeys(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("auth token: load keys", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	var matched *model.APIKey
	for i := range keys {
		ok, err := auth.VerifyAPIKey(req.APIKey, keys[i].KeyHash)
		if err != nil {
			h.logger.Warn("auth token: verify key", "error", err)
			continue
		}
		if ok {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		// Hash anyway so a missing user costs the same as a wrong key.
		auth.DummyVerify()
		writeError(w, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	if err := h.store.TouchAPIKey(r.Context(), matched.ID); err != nil {
		h.logger.Warn("auth token: touch key", "error", err)
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.UserID)
	if err != nil {
		h.logger.Error("auth token: issue", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleStartExecution starts an execution, persisting the conversation
// around it, and waits a bounded time for it to finish.
// POST /executions
func (h *Handlers) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r.Context())

	var req model.StartExecutionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}
	if err := model.ValidateInput(req.Input); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, err.Error())
		return
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = agents.CoordinatorID
	}
	agentCfg, ok := h.catalog.Get(agentID)
	if !ok {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, fmt.Sprintf("unknown agent: %s", agentID))
		return
	}

	mode := model.AgentModeDirect
	if agentID == agents.CoordinatorID || req.ForceSupervised {
		mode = model.AgentModeSupervised
	}
	agentKey := model.AgentKey(agentID, mode)

	thread, err := h.store.ResolveThread(r.Context(), userID, agentKey, agentCfg.Name, req.ThreadID)
	if err != nil {
		h.logger.Error("start execution: resolve thread", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	// Persistence is best-effort: a storage hiccup must not block the
	// execution itself.
	if _, _, err := h.store.AppendUserMessage(r.Context(), thread, req.Input, req.Context); err != nil {
		h.logger.Warn("start execution: append user message", "error", err, "thread_id", thread.ID)
	}

	history, err := h.store.LoadPriorMessages(r.Context(), thread.ID, storage.DefaultMessageLimit)
	if err != nil {
		h.logger.Warn("start execution: load history", "error", err, "thread_id", thread.ID)
	}

	exec, err := h.orch.Start(r.Context(), orchestrator.StartParams{
		Input:           req.Input,
		AgentID:         agentID,
		ThreadID:        thread.ID,
		ForceSupervised: req.ForceSupervised,
		History:         chatHistory(history),
	})
	if err != nil {
		var verr *orchestrator.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, model.ErrCodeValidation, verr.Reason)
			return
		}
		h.logger.Error("start execution", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeExecutionError, "failed to start execution")
		return
	}

	exec, err = h.orch.Wait(r.Context(), exec.ID)
	if err != nil {
		h.logger.Error("start execution: wait", "error", err, "execution_id", exec.ID)
		writeError(w, http.StatusInternalServerError, model.ErrCodeExecutionError, "failed to await execution")
		return
	}

	if exec.Status == model.ExecutionStatusCompleted {
		if _, _, err := h.store.AppendAssistantMessage(r.Context(), thread, exec); err != nil {
			h.logger.Warn("start execution: append assistant message", "error", err, "execution_id", exec.ID)
		}
	}

	writeJSON(w, http.StatusOK, model.StartExecutionResponse{
		Success:   true,
		Execution: exec,
		Thread:    &model.ThreadRef{ID: thread.ID},
	})
}

// chatHistory converts stored messages into provider conversation history.
func chatHistory(msgs []model.Message) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != model.RoleUser && m.Role != model.RoleAssistant {
			continue
		}
		out = append(out, model.ChatMessage{
			Role:  m.Role,
			Parts: []model.Part{model.TextPart{Text: m.Content}},
		})
	}
	return out
}

// HandleListExecutions lists execution summaries, newest first.
// GET /executions
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.ListExecutionsResponse{
		Success:    true,
		Executions: h.orch.List(),
	})
}

// HandleGetExecution returns a full execution snapshot.
// GET /executions/{id}
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid execution id")
		return
	}
	exec, err := h.orch.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, model.GetExecutionResponse{Success: true, Execution: exec})
}

// HandleStreamExecution streams an execution's frames as server-sent
// events. The full frame history is replayed first, so late subscribers
// see the whole stream.
// GET /executions/{id}/stream
func (h *Handlers) HandleStreamExecution(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid execution id")
		return
	}
	frames, cancel, err := h.orch.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The server's WriteTimeout would sever long streams; lift it for
	// this connection only.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	enc := stream.NewEncoder(w)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case f, open := <-frames:
			if !open {
				_ = enc.Done()
				flusher.Flush()
				return
			}
			if err := enc.Encode(f); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleResolveConfirmation applies a human decision to a pending tool
// confirmation.
// POST /executions/{id}/confirmations/{confirmation_id}
func (h *Handlers) HandleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	execID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid execution id")
		return
	}
	confirmationID, err := uuid.Parse(r.PathValue("confirmation_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid confirmation id")
		return
	}

	var req model.ResolveConfirmationRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}

	exec, err := h.orch.ResolveConfirmation(execID, confirmationID, req.Approved)
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
		return
	case errors.Is(err, orchestrator.ErrNoPendingConfirmation):
		writeError(w, http.StatusConflict, model.ErrCodeConflict, "execution has no pending confirmation")
		return
	case errors.Is(err, orchestrator.ErrConfirmationMismatch):
		writeError(w, http.StatusConflict, model.ErrCodeConflict, "confirmation id does not match the pending confirmation")
		return
	case err != nil:
		h.logger.Error("resolve confirmation", "error", err, "execution_id", execID)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, model.ResolveConfirmationResponse{Success: true, Execution: exec})
}

// HandleListThreads lists the caller's threads, most recently active
// first, optionally filtered and paged.
// GET /threads?agentKey&limit&offset
func (h *Handlers) HandleListThreads(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r.Context())
	q := r.URL.Query()
	filter := storage.ThreadFilter{
		AgentKey: q.Get("agentKey"),
		Limit:    queryInt(q.Get("limit")),
		Offset:   queryInt(q.Get("offset")),
	}
	threads, err := h.store.ListThreads(r.Context(), userID, filter)
	if err != nil {
		h.logger.Error("list threads", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	if threads == nil {
		threads = []model.Thread{}
	}
	writeJSON(w, http.StatusOK, model.ListThreadsResponse{Success: true, Threads: threads})
}

// HandleCreateThread creates a thread explicitly.
// POST /threads
func (h *Handlers) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	userID := CurrentUserID(r.Context())

	var req model.CreateThreadRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}
	if req.AgentKey == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "agentKey is required")
		return
	}

	thread, err := h.store.CreateThread(r.Context(), model.Thread{
		UserID:    userID,
		AgentKey:  req.AgentKey,
		AgentName: req.AgentName,
		Title:     req.Title,
	})
	if err != nil {
		h.logger.Error("create thread", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

// queryInt parses a non-negative integer query parameter; malformed or
// missing values fall back to zero.
func queryInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// HandleListMessages returns a thread's messages, oldest first.
// GET /threads/{id}/messages
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid thread id")
		return
	}

	userID := CurrentUserID(r.Context())
	msgs, err := h.store.ListMessages(r.Context(), threadID, userID, 0)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, model.ErrCodeNotFound, "thread not found")
		return
	}
	if err != nil {
		h.logger.Error("list messages", "error", err, "thread_id", threadID)
		writeError(w, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, model.ListMessagesResponse{Success: true, Messages: msgs})
}

// HandleHealth reports service liveness.
// GET /health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:  "ok",
		Version: h.version,
		Store:   h.store.Name(),
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}
