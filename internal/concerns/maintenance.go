package concerns

import (
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
)

// Decay thresholds, inclusive: a concern untouched for exactly the
// threshold duration crosses it.
const (
	decayToMonitoring = 7 * 24 * time.Hour
	decayToBackground = 30 * 24 * time.Hour
	decayToDormant    = 90 * 24 * time.Hour
)

// MaintenanceReport enumerates what a dream-cycle pass changed.
type MaintenanceReport struct {
	Demoted      []Demotion      `json:"demoted,omitempty"`
	Archived     []string        `json:"archived,omitempty"`
	Consolidated []Consolidation `json:"consolidated,omitempty"`
}

// Demotion records one tier drop.
type Demotion struct {
	ConcernID string         `json:"concern_id"`
	From      agent.Salience `json:"from"`
	To        agent.Salience `json:"to"`
}

// decayTarget maps time-since-touch to the tier it decays to.
func decayTarget(untouched time.Duration) agent.Salience {
	switch {
	case untouched >= decayToDormant:
		return agent.SalienceDormant
	case untouched >= decayToBackground:
		return agent.SalienceBackground
	case untouched >= decayToMonitoring:
		return agent.SalienceMonitoring
	default:
		return agent.SalienceActive
	}
}

// RunMaintenance applies salience decay across all concerns. Decay only
// ever demotes; reactivation happens through Touch. Dormant concerns
// count as archived in the report.
func (m *Manager) RunMaintenance(now time.Time) (*MaintenanceReport, error) {
	concerns, err := m.store.ListConcerns()
	if err != nil {
		return nil, err
	}

	report := &MaintenanceReport{}
	for i := range concerns {
		c := &concerns[i]
		target := decayTarget(now.Sub(c.LastTouched))
		if target <= c.Salience {
			continue
		}
		from := c.Salience
		c.Salience = target
		c.Context.LastUpdateReason = "decayed to " + target.AsDBStr()
		if err := m.store.UpdateConcern(c); err != nil {
			return nil, err
		}
		if target == agent.SalienceDormant {
			report.Archived = append(report.Archived, c.ID)
		} else {
			report.Demoted = append(report.Demoted, Demotion{ConcernID: c.ID, From: from, To: target})
		}
		m.log.Info("concern decayed",
			zap.String("id", c.ID),
			zap.String("from", from.AsDBStr()),
			zap.String("to", target.AsDBStr()),
		)
	}
	return report, nil
}
