package agent

import (
	"encoding/json"
	"testing"
)

func TestSalienceRoundTrip(t *testing.T) {
	for _, s := range []Salience{SalienceActive, SalienceMonitoring, SalienceBackground, SalienceDormant} {
		if got := SalienceFromDB(s.AsDBStr()); got != s {
			t.Errorf("SalienceFromDB(%q) = %v, want %v", s.AsDBStr(), got, s)
		}
	}
	if SalienceFromDB("???") != SalienceActive {
		t.Error("unknown salience should degrade to Active")
	}
}

func TestDispositionRoundTrip(t *testing.T) {
	all := []Disposition{
		DispositionIdle, DispositionObserve, DispositionJournal,
		DispositionMaintain, DispositionSurface, DispositionInterrupt,
	}
	for _, d := range all {
		if got := DispositionFromDB(d.AsDBStr()); got != d {
			t.Errorf("DispositionFromDB(%q) = %v, want %v", d.AsDBStr(), got, d)
		}
	}
	// Nothing outside the six can come back from storage.
	if DispositionFromDB("panic") != DispositionObserve {
		t.Error("unknown disposition should degrade to Observe")
	}
}

func TestJournalEntryTypeValidation(t *testing.T) {
	for _, name := range []string{"observation", "reflection", "realization", "intention", "question", "memory", "gratitude", "frustration"} {
		if !ValidJournalEntryType(name) {
			t.Errorf("%q should be valid", name)
		}
	}
	if ValidJournalEntryType("rant") {
		t.Error("rant is not a journal entry type")
	}
	if ValidJournalEntryType("") {
		t.Error("empty string is not a journal entry type")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !(SeverityInteresting < SeverityNotable && SeverityNotable < SeverityConcerning && SeverityConcerning < SeverityUrgent) {
		t.Error("severity ordering broken")
	}
}

func TestOrientationJSONRoundTrip(t *testing.T) {
	o := Orientation{
		UserState:   UserState{Kind: UserDeepWork, Confidence: 0.8},
		Anomalies:   []Anomaly{{Description: "gpu hot", Severity: SeverityConcerning}},
		Disposition: DispositionObserve,
		Mood:        MoodEstimate{Valence: 0.2, Arousal: 0.4, Confidence: 0.5},
	}
	data, err := json.Marshal(o)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Orientation
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.UserState.Kind != UserDeepWork {
		t.Errorf("user state kind = %v, want deep_work", back.UserState.Kind)
	}
	if back.Anomalies[0].Severity != SeverityConcerning {
		t.Errorf("severity = %v, want concerning", back.Anomalies[0].Severity)
	}
	if back.Disposition != DispositionObserve {
		t.Errorf("disposition = %v, want observe", back.Disposition)
	}
}

func TestWorstAnomaly(t *testing.T) {
	o := Orientation{Anomalies: []Anomaly{
		{Description: "a", Severity: SeverityNotable},
		{Description: "b", Severity: SeverityUrgent},
		{Description: "c", Severity: SeverityInteresting},
	}}
	worst := o.WorstAnomaly()
	if worst == nil || worst.Description != "b" {
		t.Fatalf("WorstAnomaly = %+v, want b", worst)
	}

	empty := Orientation{}
	if empty.WorstAnomaly() != nil {
		t.Error("WorstAnomaly on empty orientation should be nil")
	}
}
