package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/config"
	"github.com/ponderer/ponderer/internal/events"
	"github.com/ponderer/ponderer/internal/logging"
	"github.com/ponderer/ponderer/internal/scheduler"
	"github.com/ponderer/ponderer/internal/store"
)

type testBackend struct {
	server      *Server
	store       *store.Store
	broadcaster *events.Broadcaster
	cfg         *config.Config
	baseDir     string
}

func newTestBackend(t *testing.T, mutate func(*config.Config)) *testBackend {
	t.Helper()

	baseDir := t.TempDir()
	st, err := store.Open(filepath.Join(baseDir, "ponderer.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(baseDir, "ponderer.db")
	cfg.AuthMode = config.AuthDisabled
	if mutate != nil {
		mutate(cfg)
	}

	log := logging.Nop()
	broadcaster := events.NewBroadcaster(events.DefaultBacklog, log)
	t.Cleanup(broadcaster.Close)

	sched, err := scheduler.New(scheduler.Deps{
		Config:      cfg,
		Store:       st,
		Log:         log,
		Broadcaster: broadcaster,
	})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	return &testBackend{
		server:      New(cfg, st, sched, broadcaster, log, baseDir),
		store:       st,
		broadcaster: broadcaster,
		cfg:         cfg,
		baseDir:     baseDir,
	}
}

func (b *testBackend) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	b.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	b := newTestBackend(t, nil)
	rec := b.do(t, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d, want 200", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	b := newTestBackend(t, func(cfg *config.Config) {
		cfg.AuthMode = config.AuthRequired
		cfg.AuthToken = "secret"
	})

	if rec := b.do(t, http.MethodGet, "/v1/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health must stay open, got %d", rec.Code)
	}
	if rec := b.do(t, http.MethodGet, "/v1/agent/status", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/agent/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	b.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/agent/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	b.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status with bad token = %d, want 401", rec.Code)
	}
}

func TestTogglePauseAndStatus(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodPost, "/v1/agent/toggle-pause", nil)
	var toggled struct {
		Paused bool `json:"paused"`
	}
	decodeJSON(t, rec, &toggled)
	if !toggled.Paused {
		t.Fatal("toggle must report paused=true")
	}

	rec = b.do(t, http.MethodGet, "/v1/agent/status", nil)
	var status map[string]any
	decodeJSON(t, rec, &status)
	if status["paused"] != true {
		t.Errorf("status paused = %v, want true", status["paused"])
	}
	if status["visual_state"] != "paused" {
		t.Errorf("visual_state = %v, want paused", status["visual_state"])
	}
	if status["has_character_card"] != false {
		t.Errorf("has_character_card = %v, want false", status["has_character_card"])
	}
}

func TestStatusReflectsLatestOrientation(t *testing.T) {
	b := newTestBackend(t, nil)
	o := &agent.Orientation{
		UserState:    agent.UserState{Kind: agent.UserLightWork, Confidence: 0.8},
		Disposition:  agent.DispositionJournal,
		RawSynthesis: "an ordinary tuesday",
		GeneratedAt:  time.Now().UTC(),
	}
	if _, err := b.store.InsertOrientationSnapshot(o); err != nil {
		t.Fatal(err)
	}

	rec := b.do(t, http.MethodGet, "/v1/agent/status", nil)
	var status struct {
		VisualState string `json:"visual_state"`
		Orientation struct {
			Disposition string `json:"disposition"`
			UserState   string `json:"user_state"`
			Synthesis   string `json:"synthesis"`
		} `json:"orientation"`
	}
	decodeJSON(t, rec, &status)
	if status.VisualState != "writing" {
		t.Errorf("visual_state = %q, want writing", status.VisualState)
	}
	if status.Orientation.Disposition != "journal" || status.Orientation.UserState != "light_work" {
		t.Errorf("orientation = %+v", status.Orientation)
	}
}

func TestConversationFlow(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodPost, "/v1/conversations", map[string]string{"title": "morning"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation = %d: %s", rec.Code, rec.Body.String())
	}
	var conv store.Conversation
	decodeJSON(t, rec, &conv)

	rec = b.do(t, http.MethodGet, "/v1/conversations", nil)
	var list struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Conversations) != 1 || list.Conversations[0].ID != conv.ID {
		t.Fatalf("conversations = %+v", list.Conversations)
	}

	rec = b.do(t, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		map[string]string{"content": "good morning"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("post message = %d: %s", rec.Code, rec.Body.String())
	}
	var msg store.ChatMessage
	decodeJSON(t, rec, &msg)
	if msg.Processed {
		t.Error("new operator message must be unprocessed")
	}

	rec = b.do(t, http.MethodGet, "/v1/conversations/"+conv.ID+"/messages", nil)
	var msgs struct {
		Messages []store.ChatMessage `json:"messages"`
	}
	decodeJSON(t, rec, &msgs)
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "good morning" {
		t.Fatalf("messages = %+v", msgs.Messages)
	}

	rec = b.do(t, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		map[string]string{"content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400", rec.Code)
	}
}

func TestTurnPrompt(t *testing.T) {
	b := newTestBackend(t, nil)

	if rec := b.do(t, http.MethodGet, "/v1/turns/nope/prompt", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown turn = %d, want 404", rec.Code)
	}

	conv, err := b.store.CreateConversation("t")
	if err != nil {
		t.Fatal(err)
	}
	user := &store.ChatMessage{
		ID: store.NewID(), ConversationID: conv.ID,
		Role: "user", Content: "hi", CreatedAt: time.Now().UTC(),
	}
	if err := b.store.InsertChatMessage(user); err != nil {
		t.Fatal(err)
	}
	reply := &store.ChatMessage{
		ID: store.NewID(), ConversationID: conv.ID,
		Role: "assistant", Content: "hello", CreatedAt: time.Now().UTC(),
	}
	if err := b.store.CompleteTurn(user.ID, reply, "SYSTEM:\nbe kind\n\nUSER:\nhi"); err != nil {
		t.Fatal(err)
	}

	rec := b.do(t, http.MethodGet, "/v1/turns/"+reply.ID+"/prompt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("turn prompt = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Prompt string `json:"prompt"`
	}
	decodeJSON(t, rec, &out)
	if !strings.Contains(out.Prompt, "be kind") {
		t.Errorf("prompt = %q", out.Prompt)
	}
}

func TestJournalEntryByID(t *testing.T) {
	b := newTestBackend(t, nil)

	if rec := b.do(t, http.MethodGet, "/v1/journal/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown entry = %d, want 404", rec.Code)
	}

	entry := &agent.JournalEntry{
		ID: store.NewID(), Timestamp: time.Now().UTC(),
		Type: agent.EntryObservation, Content: "rain started just after lunch",
	}
	if err := b.store.InsertJournalEntry(entry); err != nil {
		t.Fatal(err)
	}

	rec := b.do(t, http.MethodGet, "/v1/journal/"+entry.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("journal entry = %d: %s", rec.Code, rec.Body.String())
	}
	var got agent.JournalEntry
	decodeJSON(t, rec, &got)
	if got.ID != entry.ID || got.Content != entry.Content {
		t.Errorf("entry = %+v", got)
	}
}

func TestThoughtsListAndDismiss(t *testing.T) {
	b := newTestBackend(t, nil)
	stream, cancel := b.broadcaster.Subscribe()
	defer cancel()

	th := &agent.PendingThought{
		ID: store.NewID(), Content: "the ferns could use water",
		Priority: 0.7, CreatedAt: time.Now().UTC(),
	}
	if err := b.store.EnqueuePendingThought(th); err != nil {
		t.Fatal(err)
	}

	rec := b.do(t, http.MethodGet, "/v1/thoughts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list thoughts = %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Thoughts []agent.PendingThought `json:"thoughts"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Thoughts) != 1 || list.Thoughts[0].ID != th.ID {
		t.Fatalf("thoughts = %+v", list.Thoughts)
	}

	rec = b.do(t, http.MethodPost, "/v1/thoughts/"+th.ID+"/dismiss", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss = %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case ev := <-stream:
		if ev.Type != agent.EventStateChanged || ev.Data["kind"] != "thought_dismissed" || ev.Data["thought_id"] != th.ID {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("dismissal must publish a state_changed event")
	}

	rec = b.do(t, http.MethodGet, "/v1/thoughts", nil)
	decodeJSON(t, rec, &list)
	if len(list.Thoughts) != 0 {
		t.Errorf("thoughts after dismiss = %+v, want none", list.Thoughts)
	}

	if rec := b.do(t, http.MethodPost, "/v1/thoughts/"+th.ID+"/dismiss", nil); rec.Code != http.StatusConflict {
		t.Errorf("second dismiss = %d, want 409", rec.Code)
	}
}

func TestOrientationHistory(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodGet, "/v1/orientation/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("empty history = %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Snapshots []store.OrientationSnapshot `json:"snapshots"`
	}
	decodeJSON(t, rec, &list)
	if len(list.Snapshots) != 0 {
		t.Fatalf("snapshots = %+v, want empty list", list.Snapshots)
	}

	for _, d := range []agent.Disposition{agent.DispositionObserve, agent.DispositionJournal, agent.DispositionMaintain} {
		o := &agent.Orientation{
			UserState:   agent.UserState{Kind: agent.UserIdle},
			Disposition: d,
			GeneratedAt: time.Now().UTC(),
		}
		if _, err := b.store.InsertOrientationSnapshot(o); err != nil {
			t.Fatal(err)
		}
	}

	rec = b.do(t, http.MethodGet, "/v1/orientation/history?limit=2", nil)
	decodeJSON(t, rec, &list)
	if len(list.Snapshots) != 2 {
		t.Fatalf("snapshots = %d, want the limit applied", len(list.Snapshots))
	}
	if list.Snapshots[0].Orientation.Disposition != agent.DispositionObserve {
		t.Errorf("history must run oldest first, got %v", list.Snapshots[0].Orientation.Disposition)
	}
}

func TestConfigReadWrite(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodGet, "/v1/config", nil)
	var got config.Config
	decodeJSON(t, rec, &got)
	if got.LLMModel != b.cfg.LLMModel {
		t.Errorf("config llm_model = %q, want %q", got.LLMModel, b.cfg.LLMModel)
	}

	next := *b.cfg
	next.LLMModel = "qwen3"
	rec = b.do(t, http.MethodPost, "/v1/config", &next)
	if rec.Code != http.StatusOK {
		t.Fatalf("post config = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		RestartRequired bool          `json:"restart_required"`
		Config          config.Config `json:"config"`
	}
	decodeJSON(t, rec, &out)
	if !out.RestartRequired || out.Config.LLMModel != "qwen3" {
		t.Errorf("post config response = %+v", out)
	}
	data, err := os.ReadFile(filepath.Join(b.baseDir, "config.json"))
	if err != nil {
		t.Fatalf("config.json not written: %v", err)
	}
	if !strings.Contains(string(data), "qwen3") {
		t.Error("persisted config must carry the new model")
	}

	bad := *b.cfg
	bad.AuthMode = config.AuthMode("sometimes")
	if rec := b.do(t, http.MethodPost, "/v1/config", &bad); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid auth_mode = %d, want 400", rec.Code)
	}
}

func TestApproveTool(t *testing.T) {
	b := newTestBackend(t, nil)
	stream, cancel := b.broadcaster.Subscribe()
	defer cancel()

	rec := b.do(t, http.MethodPost, "/v1/tools/approve", map[string]string{"tool": "shell"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve = %d: %s", rec.Code, rec.Body.String())
	}
	if !b.server.Approved("shell") {
		t.Error("approval must stick for the session")
	}
	if b.server.Approved("write_file") {
		t.Error("unapproved tool must stay unapproved")
	}

	select {
	case ev := <-stream:
		if ev.Type != agent.EventStateChanged || ev.Data["approved_tool"] != "shell" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("approval must publish a state_changed event")
	}

	if rec := b.do(t, http.MethodPost, "/v1/tools/approve", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Errorf("empty tool = %d, want 400", rec.Code)
	}
}

func TestWSEventsStream(t *testing.T) {
	b := newTestBackend(t, nil)
	ts := httptest.NewServer(b.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.broadcaster.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.broadcaster.Publish(agent.NewEvent(agent.EventJournalWritten, map[string]any{"id": "j1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev agent.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != agent.EventJournalWritten || ev.Data["id"] != "j1" {
		t.Errorf("event = %+v", ev)
	}
}

func TestWSEventsAuthToken(t *testing.T) {
	b := newTestBackend(t, func(cfg *config.Config) {
		cfg.AuthMode = config.AuthRequired
		cfg.AuthToken = "secret"
	})
	ts := httptest.NewServer(b.server.Handler())
	defer ts.Close()

	base := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws/events"
	if _, resp, err := websocket.DefaultDialer.Dial(base, nil); err == nil {
		t.Fatal("unauthenticated websocket must be rejected")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}

func TestPostSkillEvent(t *testing.T) {
	b := newTestBackend(t, nil)

	rec := b.do(t, http.MethodPost, "/v1/skills/events", map[string]any{
		"description": "calendar: dentist at 15:00",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("skill event = %d: %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Queued bool `json:"queued"`
	}
	decodeJSON(t, rec, &out)
	if !out.Queued {
		t.Error("expected queued=true")
	}

	rec = b.do(t, http.MethodPost, "/v1/skills/events", map[string]any{"description": "  "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank description = %d, want 400", rec.Code)
	}
}
