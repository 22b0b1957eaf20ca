package agent

import (
	"encoding/json"
	"time"
)

// Disposition is the typed action an orientation selects for a tick.
type Disposition int

const (
	DispositionIdle Disposition = iota
	DispositionObserve
	DispositionJournal
	DispositionMaintain
	DispositionSurface
	DispositionInterrupt
)

var dispositionNames = [...]string{
	"idle", "observe", "journal", "maintain", "surface", "interrupt",
}

// AsDBStr returns the canonical stored form.
func (d Disposition) AsDBStr() string {
	if d < 0 || int(d) >= len(dispositionNames) {
		return "observe"
	}
	return dispositionNames[d]
}

// DispositionFromDB parses a stored disposition; unknown values degrade to
// Observe so a stale row can never dispatch outside the enumerated six.
func DispositionFromDB(raw string) Disposition {
	norm := normalizeDBStr(raw)
	for i, name := range dispositionNames {
		if norm == name {
			return Disposition(i)
		}
	}
	return DispositionObserve
}

// MarshalJSON emits the canonical string form.
func (d Disposition) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.AsDBStr())
}

// UnmarshalJSON accepts the canonical string form.
func (d *Disposition) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = DispositionFromDB(raw)
	return nil
}

// UserStateKind discriminates the fused user-state estimate.
type UserStateKind int

const (
	UserIdle UserStateKind = iota
	UserDeepWork
	UserLightWork
	UserAway
)

var userStateNames = [...]string{"idle", "deep_work", "light_work", "away"}

// AsDBStr returns the canonical stored form.
func (k UserStateKind) AsDBStr() string {
	if k < 0 || int(k) >= len(userStateNames) {
		return "idle"
	}
	return userStateNames[k]
}

// UserStateKindFromDB parses a stored user state; unknown values degrade
// to Idle.
func UserStateKindFromDB(raw string) UserStateKind {
	norm := normalizeDBStr(raw)
	for i, name := range userStateNames {
		if norm == name {
			return UserStateKind(i)
		}
	}
	return UserIdle
}

// MarshalJSON emits the canonical string form.
func (k UserStateKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.AsDBStr())
}

// UnmarshalJSON accepts the canonical string form.
func (k *UserStateKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*k = UserStateKindFromDB(raw)
	return nil
}

// UserState is the user-state variant plus its confidence. AwaySecs is
// meaningful only for the away kind.
type UserState struct {
	Kind       UserStateKind `json:"kind"`
	Confidence float64       `json:"confidence"`
	AwaySecs   int64         `json:"away_secs,omitempty"`
}

// AwayFor returns how long the user has been away.
func (u UserState) AwayFor() time.Duration {
	return time.Duration(u.AwaySecs) * time.Second
}

// Severity ranks an anomaly. Ordering is meaningful: higher is worse.
type Severity int

const (
	SeverityInteresting Severity = iota
	SeverityNotable
	SeverityConcerning
	SeverityUrgent
)

var severityNames = [...]string{"interesting", "notable", "concerning", "urgent"}

// AsDBStr returns the canonical stored form.
func (s Severity) AsDBStr() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "interesting"
	}
	return severityNames[s]
}

// SeverityFromDB parses a stored severity; unknown values degrade to
// Interesting.
func SeverityFromDB(raw string) Severity {
	norm := normalizeDBStr(raw)
	for i, name := range severityNames {
		if norm == name {
			return Severity(i)
		}
	}
	return SeverityInteresting
}

// MarshalJSON emits the canonical string form.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.AsDBStr())
}

// UnmarshalJSON accepts the canonical string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SeverityFromDB(raw)
	return nil
}

// Anomaly is a noteworthy deviation spotted during orientation.
type Anomaly struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// SalientItem is one entry of the relevance-ordered salience map.
type SalientItem struct {
	Item      string  `json:"item"`
	Relevance float64 `json:"relevance"`
	ConcernID string  `json:"concern_id,omitempty"`
}

// MoodEstimate is the agent's estimated affect.
// Valence is in [-1, 1]; arousal and confidence in [0, 1].
type MoodEstimate struct {
	Valence    float64 `json:"valence"`
	Arousal    float64 `json:"arousal"`
	Confidence float64 `json:"confidence"`
}

// PendingThought is something the agent wants to say when appropriate.
// At most one of SurfacedAt/DismissedAt is ever set.
type PendingThought struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Context     string     `json:"context,omitempty"`
	Priority    float64    `json:"priority"`
	RelatesTo   []string   `json:"relates_to,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	SurfacedAt  *time.Time `json:"surfaced_at,omitempty"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

// Orientation is the fused situational snapshot produced each tick.
type Orientation struct {
	UserState         UserState        `json:"user_state"`
	SalienceMap       []SalientItem    `json:"salience_map,omitempty"`
	Anomalies         []Anomaly        `json:"anomalies,omitempty"`
	PendingThoughts   []PendingThought `json:"pending_thoughts,omitempty"`
	Disposition       Disposition      `json:"disposition"`
	DispositionReason string           `json:"disposition_reason,omitempty"`
	Mood              MoodEstimate     `json:"mood_estimate"`
	RawSynthesis      string           `json:"raw_synthesis,omitempty"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// WorstAnomaly returns the highest-severity anomaly, or nil when none exist.
func (o *Orientation) WorstAnomaly() *Anomaly {
	var worst *Anomaly
	for i := range o.Anomalies {
		if worst == nil || o.Anomalies[i].Severity > worst.Severity {
			worst = &o.Anomalies[i]
		}
	}
	return worst
}
