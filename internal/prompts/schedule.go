package prompts

// ActivitySchedule maps an hour of the day to what the persona is plausibly
// doing. It is injected by the caller; nothing in this package caches the
// current hour or activity.
type ActivitySchedule interface {
	ActivityAt(hour int) string
}

// DefaultSchedule is a fixed time-bucketed lookup.
type DefaultSchedule struct{}

func NewDefaultSchedule() DefaultSchedule { return DefaultSchedule{} }

func (DefaultSchedule) ActivityAt(hour int) string {
	switch {
	case hour >= 6 && hour < 9:
		return "just waking up, having coffee and getting ready"
	case hour >= 9 && hour < 12:
		return "out and about, running errands or working"
	case hour >= 12 && hour < 14:
		return "on a lunch break, relaxed and chatty"
	case hour >= 14 && hour < 18:
		return "busy with the afternoon, maybe at the gym"
	case hour >= 18 && hour < 21:
		return "home for the evening, cooking or unwinding"
	case hour >= 21 && hour < 24:
		return "in bed, winding down for the night"
	default:
		return "half asleep, answering quietly from bed"
	}
}
