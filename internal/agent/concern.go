// Package agent defines the entity and event types shared across the
// living loop. String forms exist only for the persistence boundary;
// everything else works with the typed values.
package agent

import (
	"encoding/json"
	"time"
)

// Salience is the tiered priority of a concern.
type Salience int

const (
	SalienceActive Salience = iota
	SalienceMonitoring
	SalienceBackground
	SalienceDormant
)

// AsDBStr returns the canonical stored form. Renaming these is a schema break.
func (s Salience) AsDBStr() string {
	switch s {
	case SalienceMonitoring:
		return "monitoring"
	case SalienceBackground:
		return "background"
	case SalienceDormant:
		return "dormant"
	default:
		return "active"
	}
}

// SalienceFromDB parses a stored salience; unknown values degrade to Active.
func SalienceFromDB(raw string) Salience {
	switch normalizeDBStr(raw) {
	case "monitoring":
		return SalienceMonitoring
	case "background":
		return SalienceBackground
	case "dormant":
		return SalienceDormant
	default:
		return SalienceActive
	}
}

// MarshalJSON emits the canonical string form.
func (s Salience) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.AsDBStr())
}

// UnmarshalJSON accepts the canonical string form.
func (s *Salience) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SalienceFromDB(raw)
	return nil
}

// ConcernKind discriminates the concern variants.
type ConcernKind string

const (
	ConcernCollaborativeProject ConcernKind = "collaborative_project"
	ConcernHouseholdAwareness   ConcernKind = "household_awareness"
	ConcernSystemHealth         ConcernKind = "system_health"
	ConcernPersonalInterest     ConcernKind = "personal_interest"
	ConcernReminder             ConcernKind = "reminder"
	ConcernOngoingConversation  ConcernKind = "ongoing_conversation"
)

// ValidConcernKind reports whether kind is one of the six variants.
func ValidConcernKind(kind ConcernKind) bool {
	switch kind {
	case ConcernCollaborativeProject, ConcernHouseholdAwareness, ConcernSystemHealth,
		ConcernPersonalInterest, ConcernReminder, ConcernOngoingConversation:
		return true
	}
	return false
}

// ConcernType is a tagged variant; only the fields for its Kind are set.
type ConcernType struct {
	Kind ConcernKind `json:"kind"`

	// collaborative_project
	ProjectName string `json:"project_name,omitempty"`
	MyRole      string `json:"my_role,omitempty"`

	// household_awareness
	Category string `json:"category,omitempty"`

	// system_health
	Component       string     `json:"component,omitempty"`
	MonitoringSince *time.Time `json:"monitoring_since,omitempty"`

	// personal_interest
	Topic          string  `json:"topic,omitempty"`
	CuriosityLevel float64 `json:"curiosity_level,omitempty"`

	// reminder
	TriggerTime      *time.Time `json:"trigger_time,omitempty"`
	TriggerCondition string     `json:"trigger_condition,omitempty"`

	// ongoing_conversation
	ThreadID string `json:"thread_id,omitempty"`
	WithWhom string `json:"with_whom,omitempty"`
}

// ConcernContext records how a concern started and evolved.
type ConcernContext struct {
	HowItStarted     string   `json:"how_it_started"`
	KeyEvents        []string `json:"key_events,omitempty"`
	LastUpdateReason string   `json:"last_update_reason"`
}

// Concern is a long-lived topic the agent tracks.
type Concern struct {
	ID                string         `json:"id"`
	CreatedAt         time.Time      `json:"created_at"`
	LastTouched       time.Time      `json:"last_touched"`
	Summary           string         `json:"summary"`
	Type              ConcernType    `json:"concern_type"`
	Salience          Salience       `json:"salience"`
	MyThoughts        string         `json:"my_thoughts"`
	RelatedMemoryKeys []string       `json:"related_memory_keys,omitempty"`
	Context           ConcernContext `json:"context"`
}
