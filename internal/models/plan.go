package models

// Mode selects between scenario (phased narrative) and direct (freeform DM)
// conversation.
type Mode string

const (
	ModeScenario Mode = "scenario"
	ModeDirect   Mode = "direct"
)

// Unlimited marks a quota dimension with no daily cap.
const Unlimited = -1

// PlanLimits holds the daily allowances of a subscription tier.
type PlanLimits struct {
	Messages int
	Photos   int
}

var planLimits = map[Plan]PlanLimits{
	PlanFree:      {Messages: 5, Photos: 5},
	PlanSoft:      {Messages: 30, Photos: 20},
	PlanUnleashed: {Messages: Unlimited, Photos: Unlimited},
}

// Limits returns the daily allowances of the plan.
func (p Plan) Limits() PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// MaxPhase returns the deepest narrative phase the plan may reach in the
// given mode, or 0 for unrestricted. Free users stay in phase 1 everywhere;
// soft users are phase-1-only in scenarios but get full depth in DM.
func (p Plan) MaxPhase(mode Mode) int {
	switch p {
	case PlanUnleashed:
		return 0
	case PlanSoft:
		if mode == ModeDirect {
			return 0
		}
		return 1
	default:
		return 1
	}
}

// AllowsPhase reports whether the plan may enter the given phase ordinal.
func (p Plan) AllowsPhase(mode Mode, ordinal int) bool {
	max := p.MaxPhase(mode)
	return max == 0 || ordinal <= max
}
