package prompts

import "github.com/alavescortez-del/gingerai-sub000/internal/models"

// DirectiveKind enumerates the one-shot supplementary instructions a turn
// outcome can inject. At most one directive rides along per backend call.
type DirectiveKind int

const (
	NoDirective DirectiveKind = iota
	// DirectiveTransition announces entering the next narrative phase.
	DirectiveTransition
	// DirectiveUnlock announces a newly unlocked action.
	DirectiveUnlock
	// DirectiveActionReaction is an ultra-short in-character reaction to a
	// triggered action. Hard cap: five words.
	DirectiveActionReaction
	// DirectivePhotoDisambiguation asks the user to choose between two
	// situational photo options instead of sending one blindly.
	DirectivePhotoDisambiguation
	// DirectivePhotoAck keeps the acknowledgment to one short sentence
	// because a photo is attached automatically afterwards.
	DirectivePhotoAck
)

// Directive is the tagged union carrying the variant payloads.
type Directive struct {
	Kind    DirectiveKind
	Phase   *models.Phase  // DirectiveTransition
	Action  *models.Action // DirectiveUnlock, DirectiveActionReaction
	Options [2]string      // DirectivePhotoDisambiguation
}

func None() Directive { return Directive{Kind: NoDirective} }

func Transition(phase *models.Phase) Directive {
	return Directive{Kind: DirectiveTransition, Phase: phase}
}

func Unlock(action *models.Action) Directive {
	return Directive{Kind: DirectiveUnlock, Action: action}
}

func ActionReaction(action *models.Action) Directive {
	return Directive{Kind: DirectiveActionReaction, Action: action}
}

func PhotoDisambiguation(optA, optB string) Directive {
	return Directive{Kind: DirectivePhotoDisambiguation, Options: [2]string{optA, optB}}
}

func PhotoAck() Directive { return Directive{Kind: DirectivePhotoAck} }
