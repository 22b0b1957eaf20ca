package agent

import (
	"encoding/json"
	"time"
)

// JournalEntryType classifies an inner-life note.
type JournalEntryType int

const (
	EntryObservation JournalEntryType = iota
	EntryReflection
	EntryRealization
	EntryIntention
	EntryQuestion
	EntryMemory
	EntryGratitude
	EntryFrustration
)

var journalEntryNames = [...]string{
	"observation", "reflection", "realization", "intention",
	"question", "memory", "gratitude", "frustration",
}

// AsDBStr returns the canonical stored form.
func (t JournalEntryType) AsDBStr() string {
	if t < 0 || int(t) >= len(journalEntryNames) {
		return "observation"
	}
	return journalEntryNames[t]
}

// JournalEntryTypeFromDB parses a stored entry type; unknown values degrade
// to Observation.
func JournalEntryTypeFromDB(raw string) JournalEntryType {
	norm := normalizeDBStr(raw)
	for i, name := range journalEntryNames {
		if norm == name {
			return JournalEntryType(i)
		}
	}
	return EntryObservation
}

// ValidJournalEntryType reports whether raw names one of the eight variants.
func ValidJournalEntryType(raw string) bool {
	norm := normalizeDBStr(raw)
	for _, name := range journalEntryNames {
		if norm == name {
			return true
		}
	}
	return false
}

// MarshalJSON emits the canonical string form.
func (t JournalEntryType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.AsDBStr())
}

// UnmarshalJSON accepts the canonical string form.
func (t *JournalEntryType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = JournalEntryTypeFromDB(raw)
	return nil
}

// JournalContext captures the situation that prompted an entry.
type JournalContext struct {
	Trigger         string `json:"trigger"`
	UserStateAtTime string `json:"user_state_at_time"`
	TimeOfDay       string `json:"time_of_day"`
}

// JournalMood is the agent's affect at write time.
type JournalMood struct {
	Valence float64 `json:"valence"`
	Arousal float64 `json:"arousal"`
}

// JournalEntry is one immutable note in the append-only inner-life log.
type JournalEntry struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	Type            JournalEntryType `json:"entry_type"`
	Content         string           `json:"content"`
	Context         JournalContext   `json:"context"`
	RelatedConcerns []string         `json:"related_concerns,omitempty"`
	MoodAtTime      *JournalMood     `json:"mood_at_time,omitempty"`
}
