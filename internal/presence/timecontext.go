package presence

import "time"

// TimeContext is derived purely from the local clock.
type TimeContext struct {
	LocalHour       int          `json:"local_hour"`
	LocalMinute     int          `json:"local_minute"`
	DayOfWeek       time.Weekday `json:"day_of_week"`
	IsWeekend       bool         `json:"is_weekend"`
	IsLateNight     bool         `json:"is_late_night"`
	IsDeepNight     bool         `json:"is_deep_night"`
	ApproxWorkHours bool         `json:"approx_work_hours"`
}

// Label names the dominant time band for prompt and journal context.
func (tc TimeContext) Label() string {
	switch {
	case tc.IsDeepNight:
		return "deep_night"
	case tc.IsLateNight:
		return "late_night"
	case tc.ApproxWorkHours:
		return "work_hours"
	case tc.IsWeekend:
		return "weekend"
	default:
		return "off_hours"
	}
}

// TimeContextNow derives the context from the current local time.
func TimeContextNow() TimeContext {
	return TimeContextAt(time.Now())
}

// TimeContextAt derives the context from an arbitrary instant, interpreted
// in local time. Late night spans 23:00-06:00, deep night 02:00-05:00,
// work hours weekdays 08:00-18:59.
func TimeContextAt(t time.Time) TimeContext {
	local := t.Local()
	hour := local.Hour()
	weekday := local.Weekday()
	isWeekend := weekday == time.Saturday || weekday == time.Sunday

	return TimeContext{
		LocalHour:       hour,
		LocalMinute:     local.Minute(),
		DayOfWeek:       weekday,
		IsWeekend:       isWeekend,
		IsLateNight:     hour >= 23 || hour < 6,
		IsDeepNight:     hour >= 2 && hour < 5,
		ApproxWorkHours: !isWeekend && hour >= 8 && hour <= 18,
	}
}
