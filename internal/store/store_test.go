package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ponderer.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_BootstrapIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ponderer.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s.Close()

	version, err := getUserVersion(s.db)
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestJournalEntry_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := &agent.JournalEntry{
		ID:        NewID(),
		Timestamp: time.Now().UTC(),
		Type:      agent.EntryReflection,
		Content:   "the house is quiet tonight",
		Context: agent.JournalContext{
			Trigger:         "ambient_tick",
			UserStateAtTime: "idle",
			TimeOfDay:       "late_night",
		},
		RelatedConcerns: []string{"c1", "c2"},
		MoodAtTime:      &agent.JournalMood{Valence: 0.3, Arousal: 0.2},
	}
	if err := s.InsertJournalEntry(entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.JournalEntryByID(entry.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.Type != agent.EntryReflection {
		t.Errorf("Type = %v, want reflection", got.Type)
	}
	if got.Content != entry.Content {
		t.Errorf("Content = %q", got.Content)
	}
	if len(got.RelatedConcerns) != 2 {
		t.Errorf("RelatedConcerns = %v", got.RelatedConcerns)
	}
	if got.MoodAtTime == nil || got.MoodAtTime.Valence != 0.3 {
		t.Errorf("MoodAtTime = %+v", got.MoodAtTime)
	}
	if !got.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, entry.Timestamp)
	}
}

func TestRecentJournalEntries_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := s.InsertJournalEntry(&agent.JournalEntry{
			ID:        NewID(),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Type:      agent.EntryObservation,
			Content:   string(rune('a' + i)),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.RecentJournalEntries(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].Content != "c" || entries[1].Content != "b" {
		t.Errorf("order = %q, %q; want c, b", entries[0].Content, entries[1].Content)
	}
}

func TestConcern_RoundTripAndTouch(t *testing.T) {
	s := openTestStore(t)
	created := time.Now().UTC().Add(-48 * time.Hour)

	c := &agent.Concern{
		ID:          NewID(),
		CreatedAt:   created,
		LastTouched: created,
		Summary:     "garden irrigation rework",
		Type: agent.ConcernType{
			Kind:        agent.ConcernCollaborativeProject,
			ProjectName: "irrigation",
			MyRole:      "planner",
		},
		Salience:          agent.SalienceActive,
		MyThoughts:        "the drip lines need rerouting",
		RelatedMemoryKeys: []string{"garden.layout"},
		Context:           agent.ConcernContext{HowItStarted: "operator asked for help"},
	}
	if err := s.InsertConcern(c); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetConcern(c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type.Kind != agent.ConcernCollaborativeProject || got.Type.ProjectName != "irrigation" {
		t.Errorf("Type = %+v", got.Type)
	}
	if got.LastTouched.Before(got.CreatedAt) {
		t.Error("last_touched must be >= created_at")
	}

	touchAt := time.Now().UTC()
	if err := s.TouchConcern(c.ID, "new sketch arrived", touchAt); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err = s.GetConcern(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastTouched.Equal(touchAt) {
		t.Errorf("LastTouched = %v, want %v", got.LastTouched, touchAt)
	}
	if got.Salience != agent.SalienceActive {
		t.Error("touch should reactivate")
	}
	if got.Context.LastUpdateReason != "new sketch arrived" {
		t.Errorf("LastUpdateReason = %q", got.Context.LastUpdateReason)
	}
}

func TestListConcerns_TierThenRecency(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	mk := func(summary string, sal agent.Salience, touched time.Time) {
		err := s.InsertConcern(&agent.Concern{
			ID: NewID(), CreatedAt: touched.Add(-time.Hour), LastTouched: touched,
			Summary: summary, Type: agent.ConcernType{Kind: agent.ConcernPersonalInterest, Topic: summary},
			Salience: sal,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	mk("dormant-new", agent.SalienceDormant, now)
	mk("active-old", agent.SalienceActive, now.Add(-time.Hour))
	mk("active-new", agent.SalienceActive, now)

	list, err := s.ListConcerns()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Summary != "active-new" || list[1].Summary != "active-old" || list[2].Summary != "dormant-new" {
		t.Errorf("order = %s, %s, %s", list[0].Summary, list[1].Summary, list[2].Summary)
	}
}

func TestOrientationSnapshots_InsertionOrder(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		o := &agent.Orientation{
			UserState:   agent.UserState{Kind: agent.UserIdle, Confidence: 0.5},
			Disposition: agent.DispositionObserve,
			GeneratedAt: base.Add(time.Duration(i) * time.Second),
		}
		if _, err := s.InsertOrientationSnapshot(o); err != nil {
			t.Fatal(err)
		}
	}

	snaps, err := s.ListOrientationSnapshots(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 {
		t.Fatalf("len = %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Orientation.GeneratedAt.Before(snaps[i-1].Orientation.GeneratedAt) {
			t.Error("generated_at must be non-decreasing in insertion order")
		}
		if snaps[i].ID <= snaps[i-1].ID {
			t.Error("insertion ids must increase")
		}
	}
}

func TestPendingThought_SurfaceDismissExclusive(t *testing.T) {
	s := openTestStore(t)
	th := &agent.PendingThought{
		ID: NewID(), Content: "mention the backup drive", Priority: 0.8,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.EnqueuePendingThought(th); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkThoughtSurfaced(th.ID, time.Now().UTC()); err != nil {
		t.Fatalf("surface: %v", err)
	}
	// A surfaced thought cannot also be dismissed.
	err := s.MarkThoughtDismissed(th.ID, time.Now().UTC())
	if !errors.Is(err, errors.ErrConcurrency) {
		t.Errorf("dismiss after surface = %v, want concurrency error", err)
	}

	pending, err := s.UnsurfacedThoughts(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("unsurfaced = %d, want 0", len(pending))
	}
}

func TestAgentState_KV(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetState(StateCurrentSystemPrompt, "you are ponderer"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetState(StateCurrentSystemPrompt)
	if err != nil || !ok || v != "you are ponderer" {
		t.Fatalf("GetState = %q, %v, %v", v, ok, err)
	}

	if err := s.SetState(StateCurrentSystemPrompt, "updated"); err != nil {
		t.Fatal(err)
	}
	v, _, _ = s.GetState(StateCurrentSystemPrompt)
	if v != "updated" {
		t.Errorf("value = %q after upsert", v)
	}

	_, ok, err = s.GetState("missing_key")
	if err != nil || ok {
		t.Errorf("missing key: ok=%v err=%v", ok, err)
	}
}

func TestRecordPromotion_RequiresRollback(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordPromotion(&PromotionDecision{
		ID: NewID(), DecidedAt: time.Now().UTC(),
		PromotedDesignID: "fts_v2", PromotedSchemaVersion: 2,
	})
	if !errors.Is(err, errors.ErrValidation) {
		t.Errorf("promotion without rollback = %v, want validation error", err)
	}
}

func TestRecordPromotion_FlipsDesignatorTransactionally(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetActiveMemoryDesign(MemoryDesignVersion{DesignID: "kv_v1", SchemaVersion: 1}); err != nil {
		t.Fatal(err)
	}

	err := s.RecordPromotion(&PromotionDecision{
		ID: NewID(), DecidedAt: time.Now().UTC(),
		PromotedDesignID: "fts_v2", PromotedSchemaVersion: 2,
		RollbackDesignID: "kv_v1", RollbackSchemaVersion: 1,
		Reason: "beat incumbent on recall",
	})
	if err != nil {
		t.Fatalf("promotion: %v", err)
	}

	active, err := s.ActiveMemoryDesign()
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.DesignID != "fts_v2" || active.SchemaVersion != 2 {
		t.Errorf("active = %+v, want fts_v2/2", active)
	}

	decisions, err := s.ListPromotionDecisions()
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 {
		t.Fatalf("decisions = %d", len(decisions))
	}
	if decisions[0].RollbackDesignID == "" || decisions[0].RollbackSchemaVersion == 0 {
		t.Error("rollback fields must be non-null")
	}
}

func TestCharacterCard_Singleton(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"iris", "willow"} {
		err := s.ReplaceCharacterCard(&agent.CharacterCard{Name: name, Card: "{}"})
		if err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CountCharacterCards()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("card count = %d, want 1", n)
	}

	card, err := s.GetCharacterCard()
	if err != nil {
		t.Fatal(err)
	}
	if card == nil || card.Name != "willow" {
		t.Errorf("card = %+v, want willow", card)
	}

	if err := s.DeleteCharacterCard(); err != nil {
		t.Fatal(err)
	}
	card, err = s.GetCharacterCard()
	if err != nil || card != nil {
		t.Errorf("after delete: card=%+v err=%v", card, err)
	}
}

func TestCompleteTurn_AtomicFlip(t *testing.T) {
	s := openTestStore(t)
	conv, err := s.CreateConversation("evening chat")
	if err != nil {
		t.Fatal(err)
	}

	userMsg := &ChatMessage{
		ID: NewID(), ConversationID: conv.ID, Role: "user",
		Content: "how was your day?", CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertChatMessage(userMsg); err != nil {
		t.Fatal(err)
	}

	pending, err := s.UnprocessedUserMessages()
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d, err = %v", len(pending), err)
	}

	reply := &ChatMessage{
		ID: NewID(), ConversationID: conv.ID, Role: "assistant",
		Content: "quiet, mostly", CreatedAt: time.Now().UTC(),
	}
	if err := s.CompleteTurn(userMsg.ID, reply, "SYSTEM: ..."); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	pending, err = s.UnprocessedUserMessages()
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending after turn = %d, err = %v", len(pending), err)
	}

	// Completing the same turn again must fail without inserting.
	err = s.CompleteTurn(userMsg.ID, &ChatMessage{
		ID: NewID(), ConversationID: conv.ID, Role: "assistant",
		Content: "dup", CreatedAt: time.Now().UTC(),
	}, "")
	if !errors.Is(err, errors.ErrConcurrency) {
		t.Errorf("double complete = %v, want concurrency error", err)
	}

	msgs, err := s.MessagesForConversation(conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2", len(msgs))
	}

	prompt, err := s.PromptForTurn(reply.ID)
	if err != nil || prompt != "SYSTEM: ..." {
		t.Errorf("PromptForTurn = %q, %v", prompt, err)
	}
}

func TestWorkingMemory_CRUD(t *testing.T) {
	s := openTestStore(t)
	if err := s.MemPut("user.coffee", "prefers dark roast"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.MemGet("user.coffee")
	if err != nil || !ok || v != "prefers dark roast" {
		t.Fatalf("MemGet = %q, %v, %v", v, ok, err)
	}

	if err := s.MemPut("user.coffee", "switched to decaf"); err != nil {
		t.Fatal(err)
	}
	entries, err := s.MemIterAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Value != "switched to decaf" {
		t.Errorf("entries = %+v", entries)
	}

	if err := s.MemDelete("user.coffee"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ = s.MemGet("user.coffee")
	if ok {
		t.Error("key should be gone")
	}
}
