package progression

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

const (
	baseDelta     = 2
	lengthBonus30 = 3
	lengthBonus80 = 5
	questionBonus = 2
	lexiconBonus  = 8

	// MaxDelta caps a single turn's affinity gain no matter how many
	// bonuses stack.
	MaxDelta = 15

	// DefaultPhaseThreshold applies when a phase has no explicit
	// next-phase affinity requirement.
	DefaultPhaseThreshold = 50
)

// explicitLexicon is the fixed engagement vocabulary worth the big bonus.
var explicitLexicon = []string{
	"kiss", "touch", "desire", "naughty", "tease", "seduce",
	"undress", "body", "crave", "intimate", "passion", "lust",
}

// Outcome is what one state-machine step decided.
type Outcome struct {
	Delta       int
	OldAffinity int
	NewAffinity int

	OldPhase     int
	NewPhase     int
	PhaseChanged bool
	EnteredPhase *models.Phase

	UnlockedAction *models.Action

	// ActiveMediaRef is the loop media to display after this turn; set when
	// a transition switched it to the new phase's default.
	ActiveMediaRef string
	Completed      bool
}

// Machine computes affinity deltas and phase transitions for scenario play.
type Machine struct {
	store interfaces.ProgressionStore
	log   *logger.Logger
}

func NewMachine(store interfaces.ProgressionStore, log *logger.Logger) *Machine {
	return &Machine{store: store, log: log.With("component", "progression")}
}

// ComputeDelta scores one user utterance. Base +2; +3 over 30 chars and a
// further +5 over 80; +2 for a question; +8 for explicit-engagement
// vocabulary; capped at MaxDelta.
func ComputeDelta(utterance string) int {
	delta := baseDelta

	n := utf8.RuneCountInString(utterance)
	if n > 30 {
		delta += lengthBonus30
	}
	if n > 80 {
		delta += lengthBonus80
	}
	if strings.Contains(utterance, "?") {
		delta += questionBonus
	}

	lower := strings.ToLower(utterance)
	for _, term := range explicitLexicon {
		if strings.Contains(lower, term) {
			delta += lexiconBonus
			break
		}
	}

	if delta > MaxDelta {
		delta = MaxDelta
	}
	return delta
}

// Step runs the transition function against an in-memory record without
// persisting. Phase advance is at most one ordinal per turn, and is refused
// outright when the plan does not allow the next phase, so this path can
// never diverge from the plan gate at the API boundary.
func (m *Machine) Step(rec *models.Progression, utterance string, scenario *models.Scenario, plan models.Plan, mode models.Mode) Outcome {
	out := Outcome{
		OldAffinity: rec.Affinity,
		OldPhase:    rec.PhaseOrdinal,
		NewPhase:    rec.PhaseOrdinal,
		Completed:   rec.Completed,
	}

	out.Delta = ComputeDelta(utterance)
	out.NewAffinity = clamp(rec.Affinity+out.Delta, 0, 100)

	// First action whose gate falls inside (old, new] unlocks this turn.
	for i := range scenario.Actions {
		a := &scenario.Actions[i]
		if a.RequiredAffinity > out.OldAffinity && a.RequiredAffinity <= out.NewAffinity {
			out.UnlockedAction = a
			break
		}
	}

	current := phaseByOrdinal(scenario, rec.PhaseOrdinal)
	next := phaseByOrdinal(scenario, rec.PhaseOrdinal+1)
	if current != nil && next != nil {
		threshold := current.NextPhaseAffinity
		if threshold <= 0 {
			threshold = DefaultPhaseThreshold
		}
		// Advance exactly one phase even if the new affinity clears
		// several thresholds at once.
		if out.NewAffinity >= threshold && plan.AllowsPhase(mode, next.Ordinal) {
			out.NewPhase = next.Ordinal
			out.PhaseChanged = true
			out.EnteredPhase = next
			out.ActiveMediaRef = next.LoopMediaRef
			if phaseByOrdinal(scenario, next.Ordinal+1) == nil {
				out.Completed = true
			}
		}
	}

	return out
}

// Apply runs Step and persists the result with a compare-and-swap on the
// record's version, re-running the computation once against a fresh record
// on conflict. A final persistence failure is logged and returned, but the
// caller keeps the outcome: the generated reply is never withheld because a
// write failed.
func (m *Machine) Apply(ctx context.Context, rec *models.Progression, utterance string, scenario *models.Scenario, plan models.Plan, mode models.Mode) (Outcome, error) {
	out := m.Step(rec, utterance, scenario, plan, mode)

	err := m.persist(ctx, rec, out)
	if errors.Is(err, interfaces.ErrVersionConflict) {
		fresh, getErr := m.store.Get(ctx, rec.UserID, rec.ScenarioID)
		if getErr != nil {
			return out, getErr
		}
		*rec = *fresh
		out = m.Step(rec, utterance, scenario, plan, mode)
		err = m.persist(ctx, rec, out)
	}
	if err != nil {
		m.log.Error("progression write failed, state will reconverge on next write",
			"user_id", rec.UserID, "scenario_id", rec.ScenarioID, "error", err)
		return out, err
	}
	return out, nil
}

func (m *Machine) persist(ctx context.Context, rec *models.Progression, out Outcome) error {
	rec.Affinity = out.NewAffinity
	rec.PhaseOrdinal = out.NewPhase
	rec.Completed = out.Completed
	return m.store.CompareAndSwap(ctx, rec)
}

func phaseByOrdinal(s *models.Scenario, ordinal int) *models.Phase {
	for i := range s.Phases {
		if s.Phases[i].Ordinal == ordinal {
			return &s.Phases[i]
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
