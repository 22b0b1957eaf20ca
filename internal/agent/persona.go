package agent

import "time"

// PersonaTraits maps a trait dimension name to a score in [0, 1].
type PersonaTraits map[string]float64

// PersonaSnapshot is one append-only record of the agent's self-model.
type PersonaSnapshot struct {
	ID              string        `json:"id"`
	CreatedAt       time.Time     `json:"created_at"`
	SystemPrompt    string        `json:"system_prompt"`
	TrajectoryNotes string        `json:"trajectory_notes"`
	Traits          PersonaTraits `json:"traits,omitempty"`
	Trigger         string        `json:"trigger"`
}

// CharacterCard is the singleton persona definition. At most one card
// exists in storage; replacing it is an atomic swap.
type CharacterCard struct {
	Name      string    `json:"name"`
	Card      string    `json:"card"`
	UpdatedAt time.Time `json:"updated_at"`
}
