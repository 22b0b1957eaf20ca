package memory

import (
	"fmt"
	"time"

	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/store"
)

// Gates is the promotion policy. A candidate must clear every minimum
// and beat the incumbent by Margin on each required metric.
type Gates struct {
	MinRecallRate      float64
	MinBlobUtilization float64
	Margin             float64
}

// DefaultGates is deliberately conservative; a design that merely ties
// the incumbent stays on the bench.
func DefaultGates() Gates {
	return Gates{
		MinRecallRate:      0.6,
		MinBlobUtilization: 0.2,
		Margin:             0.05,
	}
}

// Promote switches the active design to candidate if its report clears
// the gates against the incumbent's. The decision row and the
// designator flip are written in one transaction by the store; the
// decision always carries the incumbent as rollback target.
func Promote(st *store.Store, candidate store.MemoryDesignVersion, candidateReport, incumbentReport *EvalReport, gates Gates, evalRunID, reason string) (*store.PromotionDecision, error) {
	incumbent, err := st.ActiveMemoryDesign()
	if err != nil {
		return nil, err
	}
	if incumbent == nil {
		return nil, errors.NewValidation("no active design to promote against")
	}
	if incumbent.DesignID == candidate.DesignID && incumbent.SchemaVersion == candidate.SchemaVersion {
		return nil, errors.NewValidation("candidate is already the active design")
	}

	if candidateReport.RecallRate < gates.MinRecallRate {
		return nil, errors.NewValidation(fmt.Sprintf(
			"recall_rate %.3f below minimum %.3f", candidateReport.RecallRate, gates.MinRecallRate))
	}
	if candidateReport.BlobUtilization < gates.MinBlobUtilization {
		return nil, errors.NewValidation(fmt.Sprintf(
			"blob_utilization %.3f below minimum %.3f", candidateReport.BlobUtilization, gates.MinBlobUtilization))
	}
	if incumbentReport != nil {
		if candidateReport.RecallRate < incumbentReport.RecallRate+gates.Margin {
			return nil, errors.NewValidation(fmt.Sprintf(
				"recall_rate %.3f does not beat incumbent %.3f by margin %.3f",
				candidateReport.RecallRate, incumbentReport.RecallRate, gates.Margin))
		}
		if candidateReport.BlobUtilization < incumbentReport.BlobUtilization+gates.Margin {
			return nil, errors.NewValidation(fmt.Sprintf(
				"blob_utilization %.3f does not beat incumbent %.3f by margin %.3f",
				candidateReport.BlobUtilization, incumbentReport.BlobUtilization, gates.Margin))
		}
	}

	decision := &store.PromotionDecision{
		ID:                    store.NewID(),
		DecidedAt:             time.Now().UTC(),
		PromotedDesignID:      candidate.DesignID,
		PromotedSchemaVersion: candidate.SchemaVersion,
		RollbackDesignID:      incumbent.DesignID,
		RollbackSchemaVersion: incumbent.SchemaVersion,
		EvalRunID:             evalRunID,
		Reason:                reason,
	}
	if err := st.RecordPromotion(decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// Rollback restores the rollback target of the most recent promotion.
// Archive and decision records are never removed.
func Rollback(st *store.Store) (*store.MemoryDesignVersion, error) {
	decisions, err := st.ListPromotionDecisions()
	if err != nil {
		return nil, err
	}
	if len(decisions) == 0 {
		return nil, errors.NewNotFound("promotion decision", "latest")
	}
	last := decisions[0]
	restored := store.MemoryDesignVersion{
		DesignID:      last.RollbackDesignID,
		SchemaVersion: last.RollbackSchemaVersion,
	}
	if err := st.SetActiveMemoryDesign(restored); err != nil {
		return nil, err
	}
	return &restored, nil
}
