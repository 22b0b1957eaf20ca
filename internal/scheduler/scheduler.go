// Package scheduler drives the living loop: one logical driver that
// samples presence, orients, dispatches the chosen disposition, serves
// the engaged path, and runs dream cycles when the house goes quiet.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/concerns"
	"github.com/ponderer/ponderer/internal/config"
	"github.com/ponderer/ponderer/internal/events"
	"github.com/ponderer/ponderer/internal/journal"
	"github.com/ponderer/ponderer/internal/llm"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/orient"
	"github.com/ponderer/ponderer/internal/presence"
	"github.com/ponderer/ponderer/internal/store"
	"github.com/ponderer/ponderer/internal/tools"
)

const (
	recentJournalForOrient = 5
	awayDreamThreshold     = 30 * time.Minute
	longAwayThreshold      = time.Hour
	surfaceBatch           = 3
)

// Deps bundles what the scheduler drives.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Log         *zap.Logger
	Sampler     *presence.Sampler
	Orient      *orient.Engine
	Journal     *journal.Engine
	Concerns    *concerns.Manager
	Completer   llm.Completer
	Loop        *tools.Loop
	ToolEnv     *tools.Env
	Broadcaster *events.Broadcaster
	Memory      memory.Backend
}

// Scheduler owns the paused flag and the rhythm of the loop.
type Scheduler struct {
	deps Deps
	log  *zap.Logger

	mu          sync.Mutex
	paused      bool
	lastDream   time.Time
	skillEvents []string

	now func() time.Time
}

// New builds a scheduler. The last dream time is restored from the
// store so restarts don't trigger an immediate dream.
func New(deps Deps) (*Scheduler, error) {
	s := &Scheduler{
		deps: deps,
		log:  deps.Log,
		now:  time.Now,
	}
	raw, ok, err := deps.Store.GetState(store.StateLastDreamTime)
	if err != nil {
		return nil, err
	}
	if ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			s.lastDream = t
		}
	}
	return s, nil
}

// Paused reports the pause flag.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// TogglePause flips the flag and returns the new value. The change is
// level-triggered: a mid-flight engaged cycle finishes first.
func (s *Scheduler) TogglePause() bool {
	s.mu.Lock()
	s.paused = !s.paused
	paused := s.paused
	s.mu.Unlock()

	s.publish(agent.NewEvent(agent.EventStateChanged, map[string]any{"paused": paused}))
	s.log.Info("pause toggled", zap.Bool("paused", paused))
	return paused
}

// EnqueueSkillEvent queues an external event for the next skill cycle.
func (s *Scheduler) EnqueueSkillEvent(description string) {
	s.mu.Lock()
	s.skillEvents = append(s.skillEvents, description)
	s.mu.Unlock()
}

func (s *Scheduler) drainSkillEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.skillEvents
	s.skillEvents = nil
	return drained
}

func (s *Scheduler) peekSkillEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.skillEvents...)
}

// Run drives the loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.Bool("ambient", s.deps.Config.EnableAmbientLoop),
		zap.Bool("dream", s.deps.Config.EnableDreamCycle),
	)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep := s.Tick(ctx)
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Tick runs one loop iteration and returns how long to sleep before
// the next.
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	poll := time.Duration(s.deps.Config.PollIntervalSecs) * time.Second
	if s.Paused() {
		return poll
	}

	s.publish(agent.NewEvent(agent.EventCycleStart, nil))

	if !s.deps.Config.EnableAmbientLoop {
		s.runEngaged(ctx)
		return poll
	}

	sample := s.deps.Sampler.Sample()

	o, err := s.orientTick(ctx, sample)
	if err != nil {
		s.publish(agent.NewEvent(agent.EventError, map[string]any{
			"description": "orientation failed: " + err.Error(),
		}))
		s.log.Warn("orientation failed, degrading to observe", zap.Error(err))
		o = &agent.Orientation{
			UserState:   agent.UserState{Kind: agent.UserIdle},
			Disposition: agent.DispositionObserve,
			GeneratedAt: s.now().UTC(),
		}
	} else {
		if _, err := s.deps.Store.InsertOrientationSnapshot(o); err != nil {
			s.log.Error("persist orientation snapshot", zap.Error(err))
		}
		s.publish(agent.NewEvent(agent.EventOrientationUpdate, map[string]any{
			"disposition": o.Disposition.AsDBStr(),
			"user_state":  o.UserState.Kind.AsDBStr(),
			"synthesis":   o.RawSynthesis,
		}))
	}

	s.dispatch(ctx, o, sample)
	s.runEngaged(ctx)

	if o.Disposition != agent.DispositionIdle {
		s.runSkillCycle(ctx)
	}

	if s.dreamDue(o.UserState, sample.TimeContext) {
		s.runDreamCycle(ctx)
	}

	return s.tickInterval(o.UserState)
}

func (s *Scheduler) orientTick(ctx context.Context, sample presence.PresenceState) (*agent.Orientation, error) {
	concernList, err := s.deps.Store.ListConcerns()
	if err != nil {
		return nil, err
	}
	recent, err := s.deps.Store.RecentJournalEntries(recentJournalForOrient)
	if err != nil {
		return nil, err
	}
	trajectory := ""
	if snap, err := s.deps.Store.LatestPersonaSnapshot(); err == nil && snap != nil {
		trajectory = snap.TrajectoryNotes
	}
	themes := ""
	if v, ok, err := s.deps.Memory.Get(journalThemesKey); err == nil && ok {
		themes = v
	}

	return s.deps.Orient.Orient(ctx, orient.Inputs{
		Presence:      sample,
		Concerns:      concernList,
		RecentJournal: recent,
		PendingEvents: s.peekSkillEvents(),
		Trajectory:    trajectory,
		Themes:        themes,
	})
}

// dispatch executes the disposition. Handlers fail soft: an error is
// logged and emitted, never fatal to the loop.
func (s *Scheduler) dispatch(ctx context.Context, o *agent.Orientation, sample presence.PresenceState) {
	switch o.Disposition {
	case agent.DispositionIdle:

	case agent.DispositionObserve:
		for _, a := range o.Anomalies {
			s.log.Info("anomaly observed",
				zap.String("severity", a.Severity.AsDBStr()),
				zap.String("description", a.Description),
			)
		}

	case agent.DispositionJournal:
		if !s.deps.Config.EnableJournal {
			return
		}
		entry, err := s.deps.Journal.MaybeWrite(ctx, o, "disposition", sample.TimeContext.Label())
		if err != nil {
			s.log.Warn("journal write failed", zap.Error(err))
			return
		}
		if entry != nil {
			s.publish(agent.NewEvent(agent.EventJournalWritten, map[string]any{
				"id":         entry.ID,
				"entry_type": entry.Type.AsDBStr(),
			}))
		}

	case agent.DispositionMaintain:
		if !s.deps.Config.EnableConcerns {
			return
		}
		if _, err := s.deps.Concerns.RunMaintenance(s.now().UTC()); err != nil {
			s.log.Warn("maintenance failed", zap.Error(err))
		}

	case agent.DispositionSurface:
		for i := range o.PendingThoughts {
			if err := s.deps.Store.EnqueuePendingThought(&o.PendingThoughts[i]); err != nil {
				s.log.Warn("enqueue pending thought", zap.Error(err))
			}
		}
		s.surfaceThoughts()

	case agent.DispositionInterrupt:
		worst := o.WorstAnomaly()
		description := o.DispositionReason
		if worst != nil {
			description = worst.Description
		}
		s.publish(agent.NewEvent(agent.EventAttentionNeeded, map[string]any{
			"description": description,
		}))
	}
}

// tickInterval implements the adaptive pacing table, floored at the
// configured ambient minimum.
func (s *Scheduler) tickInterval(u agent.UserState) time.Duration {
	var base time.Duration
	switch u.Kind {
	case agent.UserDeepWork:
		base = 120 * time.Second
	case agent.UserLightWork:
		base = 30 * time.Second
	case agent.UserAway:
		base = 120 * time.Second
		if u.AwayFor() >= longAwayThreshold {
			base = 300 * time.Second
		}
	default:
		base = 60 * time.Second
	}
	if floor := time.Duration(s.deps.Config.AmbientMinIntervalSecs) * time.Second; base < floor {
		return floor
	}
	return base
}

// surfaceThoughts delivers queued thoughts, highest priority first.
// Each one is stamped surfaced before its event goes out, so a restart
// never repeats a thought.
func (s *Scheduler) surfaceThoughts() {
	thoughts, err := s.deps.Store.UnsurfacedThoughts(surfaceBatch)
	if err != nil {
		s.log.Warn("load pending thoughts", zap.Error(err))
		return
	}
	for i := range thoughts {
		th := &thoughts[i]
		if err := s.deps.Store.MarkThoughtSurfaced(th.ID, s.now().UTC()); err != nil {
			s.log.Warn("mark thought surfaced", zap.String("id", th.ID), zap.Error(err))
			continue
		}
		s.publish(agent.NewEvent(agent.EventStateChanged, map[string]any{
			"kind":       "thought_surfaced",
			"thought_id": th.ID,
			"content":    th.Content,
		}))
	}
}

// dreamDue checks the two disjunctive triggers behind the minimum
// interval.
func (s *Scheduler) dreamDue(u agent.UserState, tc presence.TimeContext) bool {
	if !s.deps.Config.EnableDreamCycle {
		return false
	}
	minInterval := time.Duration(s.deps.Config.DreamMinIntervalSecs) * time.Second
	s.mu.Lock()
	last := s.lastDream
	s.mu.Unlock()
	if !last.IsZero() && s.now().Sub(last) < minInterval {
		return false
	}
	awayLongEnough := u.Kind == agent.UserAway && u.AwayFor() > awayDreamThreshold
	return awayLongEnough || tc.IsDeepNight
}

func (s *Scheduler) publish(ev agent.Event) {
	s.deps.Broadcaster.Publish(ev)
}
