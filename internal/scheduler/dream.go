package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/llm"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

const (
	dreamJournalWindow = 20
	journalThemesKey   = "journal.themes"
)

// runDreamCycle performs the deep-consolidation pass. Steps run in
// order; a failing step logs and the cycle proceeds.
func (s *Scheduler) runDreamCycle(ctx context.Context) {
	now := s.now().UTC()
	s.mu.Lock()
	s.lastDream = now
	s.mu.Unlock()
	if err := s.deps.Store.SetState(store.StateLastDreamTime, now.Format(time.RFC3339Nano)); err != nil {
		s.log.Error("persist last dream time", zap.Error(err))
	}

	s.publish(agent.NewEvent(agent.EventDreamCycleStarted, nil))
	s.log.Info("dream cycle started")

	if err := s.inferTrajectory(ctx); err != nil {
		s.log.Warn("dream: trajectory inference failed", zap.Error(err))
	}
	if err := s.consolidateJournal(ctx); err != nil {
		s.log.Warn("dream: journal consolidation failed", zap.Error(err))
	}

	var report *countsReport
	if s.deps.Config.EnableConcerns {
		r, err := s.maintainConcerns(ctx)
		if err != nil {
			s.log.Warn("dream: concern maintenance failed", zap.Error(err))
		}
		report = r
	}
	if err := s.evolveMemory(ctx); err != nil {
		s.log.Warn("dream: memory evolution failed", zap.Error(err))
	}
	if s.deps.Config.EnableALMAExploration {
		if err := s.exploreMemoryDesigns(ctx); err != nil {
			s.log.Warn("dream: design exploration failed", zap.Error(err))
		}
	}

	data := map[string]any{}
	if report != nil {
		data["demoted"] = report.demoted
		data["archived"] = report.archived
		data["consolidated"] = report.consolidated
	}
	s.publish(agent.NewEvent(agent.EventDreamCycleComplete, data))
	s.log.Info("dream cycle completed")
}

type countsReport struct {
	demoted, archived, consolidated int
}

// inferTrajectory asks the model where the agent's self-model is
// heading and appends a persona snapshot.
func (s *Scheduler) inferTrajectory(ctx context.Context) error {
	recent, err := s.deps.Store.RecentJournalEntries(dreamJournalWindow)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	previous, err := s.deps.Store.LatestPersonaSnapshot()
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("Recent journal entries, newest first:\n")
	for _, entry := range recent {
		fmt.Fprintf(&sb, "- (%s) %s\n", entry.Type.AsDBStr(), entry.Content)
	}
	if previous != nil {
		sb.WriteString("\nPrevious trajectory notes:\n")
		sb.WriteString(previous.TrajectoryNotes)
		sb.WriteString("\n")
	}

	raw, err := s.deps.Completer.Complete(ctx, llm.Request{
		System: `You reflect on an agent's journal and describe how its inner life is evolving.
Respond with JSON only:
{"trajectory_notes": "...", "system_prompt": "updated first-person self-description",
 "traits": {"warmth": 0.0, "curiosity": 0.0, "steadiness": 0.0}}`,
		User:        sb.String(),
		Temperature: 0.6,
	})
	if err != nil {
		return err
	}
	var resp struct {
		TrajectoryNotes string              `json:"trajectory_notes"`
		SystemPrompt    string              `json:"system_prompt"`
		Traits          agent.PersonaTraits `json:"traits"`
	}
	if err := llm.ParseObject(raw, &resp); err != nil {
		return err
	}
	if strings.TrimSpace(resp.TrajectoryNotes) == "" {
		return nil
	}

	now := s.now().UTC()
	snapshot := &agent.PersonaSnapshot{
		ID:              store.NewID(),
		CreatedAt:       now,
		SystemPrompt:    resp.SystemPrompt,
		TrajectoryNotes: resp.TrajectoryNotes,
		Traits:          resp.Traits,
		Trigger:         "dream",
	}
	if err := s.deps.Store.InsertPersonaSnapshot(snapshot); err != nil {
		return err
	}
	if resp.SystemPrompt != "" {
		if err := s.deps.Store.SetState(store.StateCurrentSystemPrompt, resp.SystemPrompt); err != nil {
			return err
		}
	}
	return s.deps.Store.SetState(store.StateLastReflectionTime, now.Format(time.RFC3339Nano))
}

// consolidateJournal distills recent entries into a working-memory
// themes note the orientation prompt can draw on.
func (s *Scheduler) consolidateJournal(ctx context.Context) error {
	recent, err := s.deps.Store.RecentJournalEntries(dreamJournalWindow)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, entry := range recent {
		fmt.Fprintf(&sb, "- (%s) %s\n", entry.Type.AsDBStr(), entry.Content)
	}
	raw, err := s.deps.Completer.Complete(ctx, llm.Request{
		System: `Distill these journal entries into at most five recurring themes.
Respond with JSON only: {"themes": ["...", "..."]}`,
		User:        sb.String(),
		Temperature: 0.3,
	})
	if err != nil {
		return err
	}
	var resp struct {
		Themes []string `json:"themes"`
	}
	if err := llm.ParseObject(raw, &resp); err != nil {
		return err
	}
	if len(resp.Themes) == 0 {
		return nil
	}
	return s.deps.Memory.Put(journalThemesKey, strings.Join(resp.Themes, "; "))
}

func (s *Scheduler) maintainConcerns(ctx context.Context) (*countsReport, error) {
	report, err := s.deps.Concerns.RunMaintenance(s.now().UTC())
	if err != nil {
		return nil, err
	}
	counts := &countsReport{
		demoted:  len(report.Demoted),
		archived: len(report.Archived),
	}
	merged, err := s.deps.Concerns.Consolidate(ctx, s.deps.Completer)
	if err != nil {
		return counts, err
	}
	counts.consolidated = len(merged)
	return counts, nil
}

// evolveMemory evaluates every registered design against a replay
// trace derived from current working memory, archives the runs, and
// promotes a challenger only when it clears the gates.
func (s *Scheduler) evolveMemory(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	trace, err := s.buildReplayTrace()
	if err != nil {
		return err
	}
	if len(trace.Ops) == 0 {
		return nil
	}

	active, err := s.deps.Store.ActiveMemoryDesign()
	if err != nil {
		return err
	}
	if active == nil {
		return nil
	}

	var incumbentReport *memory.EvalReport
	type candidate struct {
		design store.MemoryDesignVersion
		report *memory.EvalReport
		runID  string
	}
	var challengers []candidate

	for _, design := range memory.Designs() {
		report, err := memory.Evaluate(design.DesignID, trace)
		if err != nil {
			s.log.Warn("memory eval failed", zap.String("design", design.DesignID), zap.Error(err))
			continue
		}
		run, err := memory.RecordEval(s.deps.Store, design, report)
		if err != nil {
			return err
		}
		if design.DesignID == active.DesignID {
			incumbentReport = report
			continue
		}
		challengers = append(challengers, candidate{design: design, report: report, runID: run.ID})
	}

	for _, c := range challengers {
		decision, err := memory.Promote(s.deps.Store, c.design, c.report, incumbentReport,
			memory.DefaultGates(), c.runID, "dream-cycle evaluation")
		if err != nil {
			s.log.Debug("challenger not promoted",
				zap.String("design", c.design.DesignID),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("memory design promoted",
			zap.String("design", decision.PromotedDesignID),
			zap.Int("schema_version", decision.PromotedSchemaVersion),
		)
		return nil
	}
	return nil
}

// buildReplayTrace derives a deterministic workload from current
// working memory: replay every pair, then expect each key to recall.
func (s *Scheduler) buildReplayTrace() (memory.ReplayTrace, error) {
	entries, err := s.deps.Memory.IterAll()
	if err != nil {
		return memory.ReplayTrace{}, err
	}
	trace := memory.ReplayTrace{Name: "working-memory-replay", BlobBudget: 2000}
	for _, e := range entries {
		trace.Ops = append(trace.Ops, memory.ReplayOp{Kind: memory.OpPut, Key: e.Key, Value: e.Value})
	}
	for _, e := range entries {
		trace.Ops = append(trace.Ops, memory.ReplayOp{
			Kind: memory.OpGet, Key: e.Key, ExpectHit: true, ExpectValue: e.Value,
		})
	}
	return trace, nil
}

// exploreMemoryDesigns asks the model for adversarial replay ops and
// evaluates the registered designs against them. Results are archived
// for later review; exploration never promotes directly.
func (s *Scheduler) exploreMemoryDesigns(ctx context.Context) error {
	raw, err := s.deps.Completer.Complete(ctx, llm.Request{
		System: `Propose a short adversarial workload for a key-value memory.
Respond with JSON only: {"ops": [{"kind": "put|get|delete", "key": "...", "value": "...", "expect_hit": false}]}`,
		User:        "Design up to 20 operations that stress recall after overwrites and deletes.",
		Temperature: 0.8,
	})
	if err != nil {
		return err
	}
	var trace memory.ReplayTrace
	if err := llm.ParseObject(raw, &trace); err != nil {
		return err
	}
	if len(trace.Ops) == 0 {
		return nil
	}
	trace.Name = "alma-exploration"
	trace.BlobBudget = 2000

	for _, design := range memory.Designs() {
		report, err := memory.Evaluate(design.DesignID, trace)
		if err != nil {
			s.log.Warn("exploration eval failed", zap.String("design", design.DesignID), zap.Error(err))
			continue
		}
		if _, err := memory.RecordEval(s.deps.Store, design, report); err != nil {
			return err
		}
	}
	return nil
}
