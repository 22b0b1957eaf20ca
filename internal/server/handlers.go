package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleAgentStatus reports the paused flag, a coarse visual state, and
// the latest orientation summary.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.store.LatestOrientationSnapshot()
	if err != nil {
		s.renderError(w, err)
		return
	}
	card, err := s.store.GetCharacterCard()
	if err != nil {
		s.renderError(w, err)
		return
	}

	paused := s.sched.Paused()
	status := map[string]any{
		"paused":             paused,
		"visual_state":       visualState(paused, snap),
		"has_character_card": card != nil,
	}
	if card != nil {
		status["character_name"] = card.Name
	}
	if snap != nil {
		o := snap.Orientation
		status["orientation"] = map[string]any{
			"disposition":  o.Disposition.AsDBStr(),
			"user_state":   o.UserState.Kind.AsDBStr(),
			"synthesis":    o.RawSynthesis,
			"generated_at": o.GeneratedAt,
		}
	}
	renderJSON(w, http.StatusOK, status)
}

func visualState(paused bool, snap *store.OrientationSnapshot) string {
	if paused {
		return "paused"
	}
	if snap == nil {
		return "waking"
	}
	switch snap.Orientation.Disposition {
	case agent.DispositionJournal:
		return "writing"
	case agent.DispositionMaintain:
		return "tidying"
	case agent.DispositionSurface:
		return "eager"
	case agent.DispositionInterrupt:
		return "alert"
	case agent.DispositionObserve:
		return "watchful"
	default:
		return "idle"
	}
}

func (s *Server) handleTogglePause(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"paused": s.sched.TogglePause()})
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	convs, err := s.store.ListConversations()
	if err != nil {
		s.renderError(w, err)
		return
	}
	if convs == nil {
		convs = []store.Conversation{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.renderError(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "Conversation"
	}
	conv, err := s.store.CreateConversation(req.Title)
	if err != nil {
		s.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.MessagesForConversation(r.PathValue("id"))
	if err != nil {
		s.renderError(w, err)
		return
	}
	if msgs == nil {
		msgs = []store.ChatMessage{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// handlePostMessage appends an operator message. The reply arrives
// asynchronously: the engaged path picks the message up on its next
// cycle and streams the answer over the event socket.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.renderError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.renderError(w, errors.NewInvalidRequest("message content is required"))
		return
	}

	msg := &store.ChatMessage{
		ID:             store.NewID(),
		ConversationID: r.PathValue("id"),
		Role:           "user",
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertChatMessage(msg); err != nil {
		s.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusAccepted, msg)
}

func (s *Server) handleTurnPrompt(w http.ResponseWriter, r *http.Request) {
	prompt, err := s.store.PromptForTurn(r.PathValue("id"))
	if err != nil {
		s.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]any{"prompt": prompt})
}

func (s *Server) handleJournalEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.JournalEntryByID(r.PathValue("id"))
	if err != nil {
		s.renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListThoughts(w http.ResponseWriter, r *http.Request) {
	thoughts, err := s.store.UnsurfacedThoughts(queryLimit(r, 20))
	if err != nil {
		s.renderError(w, err)
		return
	}
	if thoughts == nil {
		thoughts = []agent.PendingThought{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"thoughts": thoughts})
}

// handleDismissThought resolves a queued thought without surfacing it.
// An already surfaced or dismissed thought reports a conflict.
func (s *Server) handleDismissThought(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.MarkThoughtDismissed(id, time.Now().UTC()); err != nil {
		s.renderError(w, err)
		return
	}
	s.broadcaster.Publish(agent.NewEvent(agent.EventStateChanged, map[string]any{
		"kind":       "thought_dismissed",
		"thought_id": id,
	}))
	renderJSON(w, http.StatusOK, map[string]any{"dismissed": id})
}

func (s *Server) handleOrientationHistory(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListOrientationSnapshots(queryLimit(r, 100))
	if err != nil {
		s.renderError(w, err)
		return
	}
	if snaps == nil {
		snaps = []store.OrientationSnapshot{}
	}
	renderJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	renderJSON(w, http.StatusOK, s.cfg)
}

// handlePostConfig validates and persists a whole replacement config.
// The running process keeps its current settings; the response says so.
func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	next := *s.cfg
	if err := decodeBody(r, &next); err != nil {
		s.renderError(w, err)
		return
	}
	if err := next.Normalize(); err != nil {
		s.renderError(w, errors.NewConfigInvalid(err.Error()))
		return
	}
	if err := next.Save(s.baseDir); err != nil {
		s.renderError(w, errors.NewStorage("save config", err))
		return
	}
	s.log.Info("config replaced", zap.String("base_dir", s.baseDir))
	renderJSON(w, http.StatusOK, map[string]any{
		"config":           &next,
		"restart_required": true,
	})
}

// handlePostSkillEvent queues an external event description. The next
// skill cycle drains the queue and feeds it to the loop.
func (s *Server) handlePostSkillEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.renderError(w, err)
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		s.renderError(w, errors.NewInvalidRequest("event description is required"))
		return
	}

	s.sched.EnqueueSkillEvent(req.Description)
	renderJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handleApproveTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tool string `json:"tool"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.renderError(w, err)
		return
	}
	if strings.TrimSpace(req.Tool) == "" {
		s.renderError(w, errors.NewInvalidRequest("tool name is required"))
		return
	}

	s.mu.Lock()
	s.approved[req.Tool] = true
	s.mu.Unlock()

	s.broadcaster.Publish(agent.NewEvent(agent.EventStateChanged, map[string]any{
		"approved_tool": req.Tool,
	}))
	renderJSON(w, http.StatusOK, map[string]any{"approved": req.Tool})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	var aErr *errors.AgentError
	if !stderrors.As(err, &aErr) {
		aErr = errors.NewStorage("internal error", err)
	}
	if aErr.Status >= 500 {
		s.log.Error("request failed", zap.Error(err))
	}
	renderJSON(w, aErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(aErr.Code),
			"message": aErr.Message,
			"status":  aErr.Status,
		},
	})
}

func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
