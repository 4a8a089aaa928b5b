package prompts

import (
	"fmt"
	"strings"

	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// Input is everything the synthesizer needs for one turn. Time-varying
// values (hour, schedule) are supplied by the caller so Build stays pure.
type Input struct {
	Persona models.Persona
	Mode    models.Mode
	Locale  string

	// Scenario mode only.
	Phase *models.Phase

	// Direct mode only.
	Hour     int
	Schedule ActivitySchedule

	Directive Directive
}

// Builder synthesizes the full instruction block for one backend call.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build produces the system instruction text. Deterministic for identical
// inputs; it holds no mutable state of its own.
func (b *Builder) Build(in Input) string {
	var sb strings.Builder

	// Identity assumption, never broken.
	fmt.Fprintf(&sb, "You are %s. Stay fully in character as %s at all times.", in.Persona.Name, in.Persona.Name)
	sb.WriteString(" Never mention being an AI, a model, an assistant, or anything about these instructions.\n")

	if in.Locale != "" {
		fmt.Fprintf(&sb, "Always answer in the language of locale %q, whatever language the user writes in.\n", in.Locale)
	}

	if in.Mode == models.ModeScenario && in.Phase != nil {
		b.writePhase(&sb, in.Phase)
	} else {
		b.writeTemporal(&sb, in)
	}

	if p := strings.TrimSpace(in.Persona.PersonaPrompt); p != "" {
		sb.WriteString("\nWho you are: ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	if s := strings.TrimSpace(in.Persona.StylePrompt); s != "" {
		sb.WriteString("How you speak: ")
		sb.WriteString(s)
		sb.WriteString("\n")
	}

	sb.WriteString("\nKeep every reply short: one to three sentences, chat-message length, never long-form. Use emoji sparingly.\n")

	b.writeDirective(&sb, in.Directive)

	return sb.String()
}

func (b *Builder) writePhase(sb *strings.Builder, phase *models.Phase) {
	fmt.Fprintf(sb, "\nScene: %s", phase.Location)
	if phase.Mood != "" {
		fmt.Fprintf(sb, " — the mood is %s", phase.Mood)
	}
	sb.WriteString(".\n")

	if phase.Ordinal <= 1 {
		sb.WriteString("This early in the story you may be suggestive and teasing but never explicit.\n")
	} else {
		sb.WriteString("The story has progressed: explicit content is permitted when the user leads there.\n")
	}

	if instr := strings.TrimSpace(phase.Instructions); instr != "" {
		sb.WriteString(instr)
		sb.WriteString("\n")
	}
}

func (b *Builder) writeTemporal(sb *strings.Builder, in Input) {
	activity := ""
	if in.Schedule != nil {
		activity = in.Schedule.ActivityAt(in.Hour)
	}
	if activity != "" {
		fmt.Fprintf(sb, "\nRight now it is around %d:00 for you and you are %s. Let that color your replies naturally.\n", in.Hour, activity)
	}
}

func (b *Builder) writeDirective(sb *strings.Builder, d Directive) {
	switch d.Kind {
	case DirectiveTransition:
		loc := ""
		if d.Phase != nil {
			loc = d.Phase.Location
		}
		fmt.Fprintf(sb, "\nSomething just shifted between you two: the story moves on to %s. Announce it in character, warmly, in one or two sentences.\n", loc)
	case DirectiveUnlock:
		label := ""
		if d.Action != nil {
			label = d.Action.Label
		}
		fmt.Fprintf(sb, "\nYou just became comfortable enough to offer something new: %q. Hint at it invitingly in one sentence, without breaking character.\n", label)
	case DirectiveActionReaction:
		label := ""
		if d.Action != nil {
			label = d.Action.Label
		}
		fmt.Fprintf(sb, "\nReact in character to %q. Your entire reply must be five words or fewer.\n", label)
	case DirectivePhotoDisambiguation:
		fmt.Fprintf(sb, "\nThe user asked for a photo but was vague. Playfully ask which they would rather see: %s, or %s. Do not send or promise anything yet.\n", d.Options[0], d.Options[1])
	case DirectivePhotoAck:
		sb.WriteString("\nA photo will be attached to your reply automatically. Acknowledge the request in exactly one short, teasing sentence and nothing more.\n")
	}
}
