package concerns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/llm"
)

// Consolidation records one merge of duplicate concerns.
type Consolidation struct {
	SurvivorID string   `json:"survivor_id"`
	MergedIDs  []string `json:"merged_ids"`
	Reason     string   `json:"reason,omitempty"`
}

type mergeProposal struct {
	MergeGroups []struct {
		SurvivorID   string   `json:"survivor_id"`
		DuplicateIDs []string `json:"duplicate_ids"`
		Reason       string   `json:"reason"`
	} `json:"merge_groups"`
}

const consolidateSystemPrompt = `You review an agent's tracked concerns and identify duplicates.
Two concerns are duplicates when they track the same underlying topic, even if worded differently.
Respond with JSON only, no prose:
{"merge_groups": [{"survivor_id": "...", "duplicate_ids": ["..."], "reason": "..."}]}
Return {"merge_groups": []} when nothing should merge. Never list an id in more than one group.`

// Consolidate asks the model which concerns duplicate each other and
// merges each group. The survivor inherits the earliest created_at and
// the union of related memory keys. Groups naming unknown or
// already-merged ids are skipped, so replaying a proposal is harmless.
func (m *Manager) Consolidate(ctx context.Context, completer llm.Completer) ([]Consolidation, error) {
	concerns, err := m.store.ListConcerns()
	if err != nil {
		return nil, err
	}
	if len(concerns) < 2 {
		return nil, nil
	}

	raw, err := completer.Complete(ctx, llm.Request{
		System:      consolidateSystemPrompt,
		User:        describeConcerns(concerns),
		Temperature: 0.2,
	})
	if err != nil {
		return nil, err
	}
	var proposal mergeProposal
	if err := llm.ParseObject(raw, &proposal); err != nil {
		return nil, err
	}

	byID := make(map[string]*agent.Concern, len(concerns))
	for i := range concerns {
		byID[concerns[i].ID] = &concerns[i]
	}

	var done []Consolidation
	claimed := make(map[string]bool)
	for _, group := range proposal.MergeGroups {
		survivor, ok := byID[group.SurvivorID]
		if !ok || claimed[group.SurvivorID] {
			m.log.Debug("skipping merge group, survivor unavailable", zap.String("id", group.SurvivorID))
			continue
		}
		var merged []string
		for _, dup := range group.DuplicateIDs {
			if dup == group.SurvivorID || claimed[dup] {
				continue
			}
			if _, exists := byID[dup]; exists {
				merged = append(merged, dup)
			}
		}
		if len(merged) == 0 {
			continue
		}

		keys := map[string]bool{}
		for _, k := range survivor.RelatedMemoryKeys {
			keys[k] = true
		}
		for _, dup := range merged {
			d := byID[dup]
			if d.CreatedAt.Before(survivor.CreatedAt) {
				survivor.CreatedAt = d.CreatedAt
			}
			for _, k := range d.RelatedMemoryKeys {
				keys[k] = true
			}
			delete(byID, dup)
		}
		survivor.RelatedMemoryKeys = sortedKeys(keys)
		survivor.Context.KeyEvents = append(survivor.Context.KeyEvents,
			fmt.Sprintf("absorbed %d duplicate concern(s)", len(merged)))
		survivor.Context.LastUpdateReason = "consolidated"

		if err := m.store.ReplaceConcerns(survivor, merged); err != nil {
			return done, err
		}
		claimed[group.SurvivorID] = true
		for _, dup := range merged {
			claimed[dup] = true
		}
		done = append(done, Consolidation{SurvivorID: survivor.ID, MergedIDs: merged, Reason: group.Reason})
		m.log.Info("concerns consolidated",
			zap.String("survivor", survivor.ID),
			zap.Int("merged", len(merged)),
		)
	}
	return done, nil
}

func describeConcerns(concerns []agent.Concern) string {
	var sb strings.Builder
	sb.WriteString("Current concerns:\n")
	for _, c := range concerns {
		fmt.Fprintf(&sb, "- id=%s kind=%s salience=%s summary=%q\n",
			c.ID, c.Type.Kind, c.Salience.AsDBStr(), c.Summary)
	}
	return sb.String()
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
