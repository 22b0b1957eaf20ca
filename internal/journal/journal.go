// Package journal generates the agent's inner-life entries: rate
// limited, model-written, validated before anything touches the
// append-only log.
package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/llm"
	"github.com/ponderer/ponderer/internal/store"
)

const recentEntriesInPrompt = 5

// Deadline bounds the journal completion; past it the tick skips the
// entry instead of stalling on a slow backend.
const Deadline = 15 * time.Second

// Engine decides whether a moment deserves an entry and writes it.
type Engine struct {
	store           *store.Store
	completer       llm.Completer
	log             *zap.Logger
	minInterval     time.Duration
	maxContentChars int
	now             func() time.Time
}

// NewEngine builds the journal engine. minInterval guards against the
// model journaling every tick; maxContentChars bounds entry length.
func NewEngine(st *store.Store, completer llm.Completer, log *zap.Logger, minInterval time.Duration, maxContentChars int) *Engine {
	return &Engine{
		store:           st,
		completer:       completer,
		log:             log,
		minInterval:     minInterval,
		maxContentChars: maxContentChars,
		now:             time.Now,
	}
}

// response is the strict shape the model must produce.
type response struct {
	EntryType  string   `json:"entry_type"`
	Content    string   `json:"content"`
	RelatesTo  []string `json:"relates_to"`
	Skip       bool     `json:"skip"`
	SkipReason string   `json:"skip_reason"`
}

const systemPrompt = `You write short first-person journal entries for a quiet household companion agent.
An entry is worth writing only when something genuinely moved, surprised, or occupied you.
Respond with JSON only:
{"entry_type": "observation|reflection|realization|intention|question|memory|gratitude|frustration",
 "content": "...", "relates_to": ["concern ids"], "skip": false, "skip_reason": ""}
Set "skip": true with a reason when nothing is worth recording.`

// MaybeWrite runs one journal opportunity. It returns the persisted
// entry, or nil with skipped=true when the rate limit, the model, or
// validation declined.
func (e *Engine) MaybeWrite(ctx context.Context, o *agent.Orientation, trigger, timeOfDay string) (*agent.JournalEntry, error) {
	now := e.now().UTC()

	last, err := e.store.LastJournalEntryTime()
	if err != nil {
		return nil, err
	}
	if !last.IsZero() && now.Sub(last) < e.minInterval {
		e.log.Debug("journal rate limited",
			zap.Time("last_entry", last),
			zap.Duration("min_interval", e.minInterval),
		)
		return nil, nil
	}

	prompt, err := e.buildPrompt(o, timeOfDay)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	raw, err := e.completer.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        prompt,
		Temperature: 0.7,
	})
	if err != nil {
		return nil, err
	}
	var resp response
	if err := llm.ParseObject(raw, &resp); err != nil {
		return nil, err
	}
	if resp.Skip {
		e.log.Debug("journal skipped by model", zap.String("reason", resp.SkipReason))
		return nil, nil
	}
	if reason := e.invalid(&resp); reason != "" {
		e.log.Warn("journal response rejected", zap.String("reason", reason))
		return nil, nil
	}

	entry := &agent.JournalEntry{
		ID:        store.NewID(),
		Timestamp: now,
		Type:      agent.JournalEntryTypeFromDB(resp.EntryType),
		Content:   resp.Content,
		Context: agent.JournalContext{
			Trigger:         trigger,
			UserStateAtTime: o.UserState.Kind.AsDBStr(),
			TimeOfDay:       timeOfDay,
		},
		RelatedConcerns: resp.RelatesTo,
		MoodAtTime:      &agent.JournalMood{Valence: o.Mood.Valence, Arousal: o.Mood.Arousal},
	}
	if err := e.store.InsertJournalEntry(entry); err != nil {
		return nil, err
	}
	e.log.Info("journal entry written",
		zap.String("id", entry.ID),
		zap.String("entry_type", entry.Type.AsDBStr()),
	)
	return entry, nil
}

// invalid returns a rejection reason, or "" when the response is
// acceptable.
func (e *Engine) invalid(resp *response) string {
	if !agent.ValidJournalEntryType(resp.EntryType) {
		return "unknown entry_type: " + resp.EntryType
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "empty content"
	}
	if len(resp.Content) > e.maxContentChars {
		return fmt.Sprintf("content exceeds %d chars", e.maxContentChars)
	}
	if len(resp.RelatesTo) > 0 {
		exists, err := e.store.ConcernIDsExist(resp.RelatesTo)
		if err != nil {
			return "concern lookup failed: " + err.Error()
		}
		for _, id := range resp.RelatesTo {
			if !exists[id] {
				return "relates_to names unknown concern: " + id
			}
		}
	}
	return ""
}

func (e *Engine) buildPrompt(o *agent.Orientation, timeOfDay string) (string, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Time of day: %s. User state: %s (confidence %.2f).\n\n",
		timeOfDay, o.UserState.Kind.AsDBStr(), o.UserState.Confidence)

	if o.RawSynthesis != "" {
		sb.WriteString("Current situational synthesis:\n")
		sb.WriteString(o.RawSynthesis)
		sb.WriteString("\n\n")
	}
	if len(o.Anomalies) > 0 {
		sb.WriteString("Anomalies noticed:\n")
		for _, a := range o.Anomalies {
			fmt.Fprintf(&sb, "- [%s] %s\n", a.Severity.AsDBStr(), a.Description)
		}
		sb.WriteString("\n")
	}
	if len(o.PendingThoughts) > 0 {
		sb.WriteString("Thoughts waiting to be said:\n")
		for _, t := range o.PendingThoughts {
			fmt.Fprintf(&sb, "- %s\n", t.Content)
		}
		sb.WriteString("\n")
	}

	active, err := e.store.ListConcernsBySalience(agent.SalienceActive)
	if err != nil {
		return "", err
	}
	if len(active) > 0 {
		sb.WriteString("Active concerns (use these ids in relates_to):\n")
		for _, c := range active {
			fmt.Fprintf(&sb, "- id=%s %s\n", c.ID, c.Summary)
		}
		sb.WriteString("\n")
	}

	recent, err := e.store.RecentJournalEntries(recentEntriesInPrompt)
	if err != nil {
		return "", err
	}
	if len(recent) > 0 {
		sb.WriteString("Your most recent entries, newest first:\n")
		for _, entry := range recent {
			fmt.Fprintf(&sb, "- (%s) %s\n", entry.Type.AsDBStr(), entry.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Decide whether this moment deserves an entry.")
	return sb.String(), nil
}
