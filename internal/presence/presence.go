// Package presence samples the user's local environment: idle time,
// time-of-day context, system load, and interesting processes. Sampling
// must stay cheap; anything a platform cannot answer quickly is reported
// as absent rather than zero.
package presence

import (
	"sync"
	"time"
)

// PresenceState is one ephemeral sample. It is never persisted.
type PresenceState struct {
	UserIdleSeconds      uint64               `json:"user_idle_seconds"`
	TimeSinceInteraction time.Duration        `json:"-"`
	SessionDuration      time.Duration        `json:"-"`
	TimeContext          TimeContext          `json:"time_context"`
	SystemLoad           SystemLoad           `json:"system_load"`
	ActiveProcesses      []InterestingProcess `json:"active_processes,omitempty"`
}

// SystemLoad reports machine utilization. GPU fields are absent where the
// platform offers no cheap query.
type SystemLoad struct {
	CPUPercent     float64  `json:"cpu_percent"`
	MemoryPercent  float64  `json:"memory_percent"`
	GPUTempCelsius *float64 `json:"gpu_temp_celsius,omitempty"`
	GPUUtilPercent *float64 `json:"gpu_util_percent,omitempty"`
}

// ProcessCategory buckets a process by what the user is likely doing.
type ProcessCategory string

const (
	CategoryDevelopment   ProcessCategory = "development"
	CategoryCreative      ProcessCategory = "creative"
	CategoryResearch      ProcessCategory = "research"
	CategoryCommunication ProcessCategory = "communication"
	CategoryMedia         ProcessCategory = "media"
	CategorySystem        ProcessCategory = "system"
)

// InterestingProcess is a categorized process worth mentioning in prompts.
type InterestingProcess struct {
	Name       string          `json:"name"`
	Category   ProcessCategory `json:"category"`
	CPUPercent float64         `json:"cpu_percent"`
}

// Sampler produces PresenceState snapshots and tracks the interaction clock.
type Sampler struct {
	mu              sync.Mutex
	sessionStart    time.Time
	lastInteraction time.Time
}

// NewSampler starts the session clock at now.
func NewSampler() *Sampler {
	return &Sampler{sessionStart: time.Now()}
}

// RecordInteraction resets the interaction clock.
func (s *Sampler) RecordInteraction() {
	s.mu.Lock()
	s.lastInteraction = time.Now()
	s.mu.Unlock()
}

// Sample returns a fresh snapshot. It never blocks on slow syscalls.
func (s *Sampler) Sample() PresenceState {
	s.mu.Lock()
	sessionStart := s.sessionStart
	lastInteraction := s.lastInteraction
	s.mu.Unlock()

	now := time.Now()
	sinceInteraction := now.Sub(sessionStart)
	if !lastInteraction.IsZero() {
		sinceInteraction = now.Sub(lastInteraction)
	}
	if sinceInteraction < 0 {
		sinceInteraction = 0
	}

	return PresenceState{
		UserIdleSeconds:      uint64(sinceInteraction / time.Second),
		TimeSinceInteraction: sinceInteraction,
		SessionDuration:      now.Sub(sessionStart),
		TimeContext:          TimeContextAt(now),
		SystemLoad:           sampleSystemLoad(),
		ActiveProcesses:      sampleProcesses(),
	}
}
