package presence

import (
	"testing"
	"time"
)

func TestSample_FreshSession(t *testing.T) {
	s := NewSampler()
	state := s.Sample()
	if state.SessionDuration < 0 || state.SessionDuration > 2*time.Second {
		t.Errorf("SessionDuration = %v, want ~0", state.SessionDuration)
	}
	if state.TimeContext.LocalHour < 0 || state.TimeContext.LocalHour > 23 {
		t.Errorf("LocalHour = %d out of range", state.TimeContext.LocalHour)
	}
}

func TestRecordInteraction_ResetsClock(t *testing.T) {
	s := NewSampler()
	s.RecordInteraction()
	state := s.Sample()
	if state.UserIdleSeconds > 1 {
		t.Errorf("UserIdleSeconds = %d, want ~0 after interaction", state.UserIdleSeconds)
	}
}

func TestTimeContext_DeepNightBoundaries(t *testing.T) {
	cases := []struct {
		hour     int
		deep     bool
		late     bool
	}{
		{1, false, true},
		{2, true, true},  // deep night starts at exactly 02:00
		{3, true, true},
		{4, true, true},
		{5, false, true}, // and ends at exactly 05:00
		{6, false, false},
		{12, false, false},
		{22, false, false},
		{23, false, true},
	}
	for _, tc := range cases {
		at := time.Date(2026, 8, 19, tc.hour, 0, 0, 0, time.Local) // a Wednesday
		ctx := TimeContextAt(at)
		if ctx.IsDeepNight != tc.deep {
			t.Errorf("hour %d: IsDeepNight = %v, want %v", tc.hour, ctx.IsDeepNight, tc.deep)
		}
		if ctx.IsLateNight != tc.late {
			t.Errorf("hour %d: IsLateNight = %v, want %v", tc.hour, ctx.IsLateNight, tc.late)
		}
	}
}

func TestTimeContext_Weekend(t *testing.T) {
	sat := time.Date(2026, 8, 22, 10, 0, 0, 0, time.Local)
	ctx := TimeContextAt(sat)
	if !ctx.IsWeekend {
		t.Error("Saturday should be weekend")
	}
	if ctx.ApproxWorkHours {
		t.Error("weekend mornings are not work hours")
	}

	wed := time.Date(2026, 8, 19, 10, 0, 0, 0, time.Local)
	ctx = TimeContextAt(wed)
	if ctx.IsWeekend {
		t.Error("Wednesday is not weekend")
	}
	if !ctx.ApproxWorkHours {
		t.Error("Wednesday 10:00 should be work hours")
	}
}

func TestSystemLoad_InRange(t *testing.T) {
	load := sampleSystemLoad()
	if load.CPUPercent < 0 || load.CPUPercent > 100 {
		t.Errorf("CPUPercent = %f out of [0,100]", load.CPUPercent)
	}
	if load.MemoryPercent < 0 || load.MemoryPercent > 100 {
		t.Errorf("MemoryPercent = %f out of [0,100]", load.MemoryPercent)
	}
}
