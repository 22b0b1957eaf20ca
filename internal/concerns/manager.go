// Package concerns manages the agent's long-lived topics: creation,
// touch reactivation, salience decay, and dream-cycle consolidation.
package concerns

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

// CreatePolicy decides whether unattended paths may open new concerns.
// Operator-driven creation never consults it.
type CreatePolicy interface {
	AllowAutoCreate(kind agent.ConcernKind) bool
}

type denyAutoCreate struct{}

func (denyAutoCreate) AllowAutoCreate(agent.ConcernKind) bool { return false }

// AllowAll permits auto-creation for every kind.
type AllowAll struct{}

func (AllowAll) AllowAutoCreate(agent.ConcernKind) bool { return true }

// Manager wraps the concern store operations with validation and the
// auto-create policy.
type Manager struct {
	store  *store.Store
	log    *zap.Logger
	policy CreatePolicy
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCreatePolicy replaces the default deny-all auto-create policy.
func WithCreatePolicy(p CreatePolicy) Option {
	return func(m *Manager) { m.policy = p }
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager over the store.
func NewManager(st *store.Store, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		log:    log,
		policy: denyAutoCreate{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput carries the operator-visible fields of a new concern.
type CreateInput struct {
	Summary           string            `json:"summary"`
	Type              agent.ConcernType `json:"concern_type"`
	MyThoughts        string            `json:"my_thoughts,omitempty"`
	RelatedMemoryKeys []string          `json:"related_memory_keys,omitempty"`
	HowItStarted      string            `json:"how_it_started,omitempty"`
}

// Create opens a new concern at active salience.
func (m *Manager) Create(in CreateInput) (*agent.Concern, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return nil, errors.NewValidation("concern summary is required")
	}
	if !agent.ValidConcernKind(in.Type.Kind) {
		return nil, errors.NewValidation("unknown concern kind: " + string(in.Type.Kind))
	}

	now := m.now().UTC()
	c := &agent.Concern{
		ID:                store.NewID(),
		CreatedAt:         now,
		LastTouched:       now,
		Summary:           in.Summary,
		Type:              in.Type,
		Salience:          agent.SalienceActive,
		MyThoughts:        in.MyThoughts,
		RelatedMemoryKeys: in.RelatedMemoryKeys,
		Context: agent.ConcernContext{
			HowItStarted:     in.HowItStarted,
			LastUpdateReason: "created",
		},
	}
	if err := m.store.InsertConcern(c); err != nil {
		return nil, err
	}
	m.log.Info("concern created",
		zap.String("id", c.ID),
		zap.String("kind", string(c.Type.Kind)),
	)
	return c, nil
}

// AutoCreate opens a concern on behalf of an unattended path. The
// policy gates it; denial is not an error the caller should surface.
func (m *Manager) AutoCreate(in CreateInput) (*agent.Concern, bool, error) {
	if !m.policy.AllowAutoCreate(in.Type.Kind) {
		m.log.Debug("auto-create denied by policy", zap.String("kind", string(in.Type.Kind)))
		return nil, false, nil
	}
	c, err := m.Create(in)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// Touch reactivates a concern: last_touched moves to now, salience
// returns to active from any tier, and the reason joins key events.
func (m *Manager) Touch(id, reason string) error {
	if err := m.store.TouchConcern(id, reason, m.now().UTC()); err != nil {
		return err
	}
	m.log.Debug("concern touched", zap.String("id", id), zap.String("reason", reason))
	return nil
}

// UpdateThoughts rewrites the agent's running thoughts on a concern
// and counts as a touch.
func (m *Manager) UpdateThoughts(id, thoughts string) error {
	c, err := m.store.GetConcern(id)
	if err != nil {
		return err
	}
	now := m.now().UTC()
	c.MyThoughts = thoughts
	c.LastTouched = now
	c.Salience = agent.SalienceActive
	c.Context.LastUpdateReason = "thoughts updated"
	return m.store.UpdateConcern(c)
}

// UpdateSalience sets the tier directly. Maintenance and operator
// overrides use it; ambient paths go through Touch.
func (m *Manager) UpdateSalience(id string, sal agent.Salience) error {
	c, err := m.store.GetConcern(id)
	if err != nil {
		return err
	}
	c.Salience = sal
	c.Context.LastUpdateReason = "salience set to " + sal.AsDBStr()
	return m.store.UpdateConcern(c)
}

// Get returns one concern by id.
func (m *Manager) Get(id string) (*agent.Concern, error) {
	return m.store.GetConcern(id)
}

// Active returns concerns at active salience, most recently touched
// first.
func (m *Manager) Active() ([]agent.Concern, error) {
	return m.store.ListConcernsBySalience(agent.SalienceActive)
}

// All returns every concern ordered by tier then recency.
func (m *Manager) All() ([]agent.Concern, error) {
	return m.store.ListConcerns()
}
