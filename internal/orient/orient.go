// Package orient runs the orientation engine: one LLM call per tick
// that fuses presence, concerns, journal, and pending events into an
// Orientation, then applies the hard disposition rules the model is
// not trusted with.
package orient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/llm"
	"github.com/ponderer/ponderer/internal/presence"
	"github.com/ponderer/ponderer/internal/store"
)

// Deadline bounds the orientation call; past it the scheduler degrades
// to Observe.
const Deadline = 20 * time.Second

const awayThreshold = 30 * time.Minute

// Inputs is everything one orientation sees.
type Inputs struct {
	Presence      presence.PresenceState
	Concerns      []agent.Concern
	RecentJournal []agent.JournalEntry
	PendingEvents []string
	Trajectory    string
	// Themes is the dream cycle's distillation of recurring journal
	// topics, empty until the first consolidation.
	Themes string
}

// Engine produces orientations.
type Engine struct {
	completer llm.Completer
	log       *zap.Logger

	// Resolves the contradiction between the urgent-interrupt rule and
	// the deep-work clamp; when true, urgent wins.
	interruptOverridesDeepWork bool
}

// NewEngine builds the engine.
func NewEngine(completer llm.Completer, log *zap.Logger, interruptOverridesDeepWork bool) *Engine {
	return &Engine{
		completer:                  completer,
		log:                        log,
		interruptOverridesDeepWork: interruptOverridesDeepWork,
	}
}

// llmResponse is the strict shape the model must produce.
type llmResponse struct {
	UserState       agent.UserState     `json:"user_state"`
	SalientItems    []agent.SalientItem `json:"salient_items"`
	Anomalies       []agent.Anomaly     `json:"anomalies"`
	PendingThoughts []thoughtProposal   `json:"pending_thoughts"`
	Disposition     string              `json:"disposition"`
	Reason          string              `json:"disposition_reason"`
	Mood            agent.MoodEstimate  `json:"mood"`
	Synthesis       string              `json:"synthesis"`
}

type thoughtProposal struct {
	Content   string   `json:"content"`
	Context   string   `json:"context"`
	Priority  float64  `json:"priority"`
	RelatesTo []string `json:"relates_to"`
}

const systemPrompt = `You are the situational awareness of a quiet household companion agent.
Fuse the labeled sections into one honest assessment. Respond with JSON only:
{"user_state": {"kind": "idle|deep_work|light_work|away", "confidence": 0.0},
 "salient_items": [{"item": "...", "relevance": 0.0, "concern_id": ""}],
 "anomalies": [{"description": "...", "severity": "interesting|notable|concerning|urgent"}],
 "pending_thoughts": [{"content": "...", "context": "", "priority": 0.0, "relates_to": []}],
 "disposition": "idle|observe|journal|maintain|surface|interrupt",
 "disposition_reason": "...",
 "mood": {"valence": 0.0, "arousal": 0.0, "confidence": 0.0},
 "synthesis": "one paragraph of what is going on"}`

// Orient runs one orientation. Empty inputs produce Observe/Idle
// without bothering the model.
func (e *Engine) Orient(ctx context.Context, in Inputs) (*agent.Orientation, error) {
	now := time.Now().UTC()

	if emptyInputs(in) {
		return &agent.Orientation{
			UserState:   agent.UserState{Kind: agent.UserIdle, Confidence: 1},
			Disposition: agent.DispositionObserve,
			GeneratedAt: now,
		}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	raw, err := e.completer.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        buildPrompt(in),
		Temperature: 0.4,
	})
	if err != nil {
		return nil, err
	}
	var resp llmResponse
	if err := llm.ParseObject(raw, &resp); err != nil {
		return nil, err
	}

	userState := resp.UserState
	if userState.Kind == agent.UserAway && userState.AwaySecs == 0 {
		userState.AwaySecs = int64(in.Presence.TimeSinceInteraction / time.Second)
	}

	o := &agent.Orientation{
		UserState:         userState,
		SalienceMap:       resp.SalientItems,
		Anomalies:         resp.Anomalies,
		Disposition:       agent.DispositionFromDB(resp.Disposition),
		DispositionReason: resp.Reason,
		Mood:              resp.Mood,
		RawSynthesis:      resp.Synthesis,
		GeneratedAt:       now,
	}
	for _, t := range resp.PendingThoughts {
		o.PendingThoughts = append(o.PendingThoughts, agent.PendingThought{
			ID:        store.NewID(),
			Content:   t.Content,
			Context:   t.Context,
			Priority:  t.Priority,
			RelatesTo: t.RelatesTo,
			CreatedAt: now,
		})
	}

	applyHardRules(o, e.interruptOverridesDeepWork)
	e.log.Debug("orientation produced",
		zap.String("disposition", o.Disposition.AsDBStr()),
		zap.String("user_state", o.UserState.Kind.AsDBStr()),
		zap.Int("anomalies", len(o.Anomalies)),
	)
	return o, nil
}

// applyHardRules overrides the model's suggested disposition where the
// rules say the model has no say.
func applyHardRules(o *agent.Orientation, interruptOverridesDeepWork bool) {
	worst := o.WorstAnomaly()
	urgent := worst != nil && worst.Severity == agent.SeverityUrgent

	if urgent {
		o.Disposition = agent.DispositionInterrupt
		o.DispositionReason = "urgent anomaly: " + worst.Description
	}

	if o.UserState.Kind == agent.UserDeepWork {
		if urgent && interruptOverridesDeepWork {
			return
		}
		if worst == nil || worst.Severity < agent.SeverityConcerning {
			if o.Disposition != agent.DispositionIdle {
				o.Disposition = agent.DispositionObserve
			}
			return
		}
		if o.Disposition == agent.DispositionInterrupt {
			o.Disposition = agent.DispositionObserve
			o.DispositionReason = "deep work clamp"
		}
		return
	}

	if o.UserState.Kind == agent.UserAway && o.UserState.AwayFor() >= awayThreshold {
		// Journal and Maintain are both fine while away; anything more
		// outward-facing waits.
		switch o.Disposition {
		case agent.DispositionSurface, agent.DispositionInterrupt:
			if !urgent {
				o.Disposition = agent.DispositionJournal
				o.DispositionReason = "user away, deferring to journal"
			}
		}
	}
}

func emptyInputs(in Inputs) bool {
	return len(in.Concerns) == 0 &&
		len(in.RecentJournal) == 0 &&
		len(in.PendingEvents) == 0 &&
		in.Trajectory == "" &&
		in.Themes == "" &&
		in.Presence.TimeSinceInteraction == 0 &&
		in.Presence.SystemLoad.CPUPercent == 0 &&
		len(in.Presence.ActiveProcesses) == 0
}

func buildPrompt(in Inputs) string {
	var sb strings.Builder
	tc := in.Presence.TimeContext

	sb.WriteString("## TIME\n")
	fmt.Fprintf(&sb, "local %02d:%02d %s, band=%s, weekend=%v\n\n",
		tc.LocalHour, tc.LocalMinute, tc.DayOfWeek, tc.Label(), tc.IsWeekend)

	sb.WriteString("## SYSTEM\n")
	load := in.Presence.SystemLoad
	fmt.Fprintf(&sb, "cpu=%.1f%% mem=%.1f%%", load.CPUPercent, load.MemoryPercent)
	if load.GPUTempCelsius != nil {
		fmt.Fprintf(&sb, " gpu_temp=%.0fC", *load.GPUTempCelsius)
	}
	sb.WriteString("\n\n")

	sb.WriteString("## PRESENCE\n")
	fmt.Fprintf(&sb, "seconds since last interaction: %d\n", in.Presence.UserIdleSeconds)
	for _, p := range in.Presence.ActiveProcesses {
		fmt.Fprintf(&sb, "- %s (%s, cpu %.1f%%)\n", p.Name, p.Category, p.CPUPercent)
	}
	sb.WriteString("\n")

	sb.WriteString("## CONCERNS\n")
	for _, c := range in.Concerns {
		fmt.Fprintf(&sb, "- id=%s [%s] %s\n", c.ID, c.Salience.AsDBStr(), c.Summary)
	}
	sb.WriteString("\n")

	sb.WriteString("## JOURNAL\n")
	for _, entry := range in.RecentJournal {
		fmt.Fprintf(&sb, "- (%s) %s\n", entry.Type.AsDBStr(), entry.Content)
	}
	sb.WriteString("\n")

	sb.WriteString("## EVENTS\n")
	for _, ev := range in.PendingEvents {
		fmt.Fprintf(&sb, "- %s\n", ev)
	}
	sb.WriteString("\n")

	sb.WriteString("## TRAJECTORY\n")
	sb.WriteString(in.Trajectory)
	sb.WriteString("\n\n")

	sb.WriteString("## THEMES\n")
	sb.WriteString(in.Themes)
	sb.WriteString("\n")

	return sb.String()
}
