package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alavescortez-del/gingerai-sub000/internal/backend"
	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
	"github.com/alavescortez-del/gingerai-sub000/internal/progression"
	"github.com/alavescortez-del/gingerai-sub000/internal/prompts"
	"github.com/alavescortez-del/gingerai-sub000/internal/quota"
)

// TurnStatus is the typed outcome of one conversational turn.
type TurnStatus string

const (
	// TurnOK: reply generated, state committed.
	TurnOK TurnStatus = "ok"
	// TurnDenied: a daily quota is exhausted. Policy, not a fault.
	TurnDenied TurnStatus = "denied"
	// TurnUpgradeRequired: the plan forbids the requested phase or action,
	// independent of affinity.
	TurnUpgradeRequired TurnStatus = "upgrade_required"
	// TurnAffinityLocked: the action's affinity gate is not met yet.
	TurnAffinityLocked TurnStatus = "affinity_locked"
	// TurnFailed: the generative backend errored; nothing was committed and
	// the caller may retry the whole turn.
	TurnFailed TurnStatus = "failed"
	// TurnUnavailable: configuration fault (missing backend credential).
	TurnUnavailable TurnStatus = "unavailable"
	// TurnBusy: another turn for the same conversation is in flight.
	TurnBusy TurnStatus = "busy"
	// TurnDuplicate: this turn key already had its state applied.
	TurnDuplicate TurnStatus = "duplicate"
)

// TurnInput carries one user turn into the orchestrator. The identity is
// auth-derived; Plan is accepted as a given fact from the subscription system.
type TurnInput struct {
	// TurnID is the idempotency key for this logical turn. Generated when
	// empty; callers that retry must resend the same key.
	TurnID string

	UserID string
	Plan   models.Plan
	Mode   models.Mode

	PersonaID  string
	ScenarioID string // scenario mode only
	Locale     string

	Utterance string
	Hour      int // direct mode only, caller-supplied wall-clock hour
	Now       time.Time
}

// TurnResult is the orchestrator's single, explicitly-typed answer.
type TurnResult struct {
	Status TurnStatus

	Reply         string
	Supplementary []string
	Photo         *models.MediaAsset
	PhotoBlurred  bool

	Limit *quota.LimitError

	Transitioned   bool
	PhaseOrdinal   int
	Affinity       int
	ActiveMediaRef string
}

// ActionInput triggers a scenario action.
type ActionInput struct {
	TurnID     string
	UserID     string
	Plan       models.Plan
	PersonaID  string
	ScenarioID string
	ActionID   uint
	Locale     string
	Now        time.Time
}

// TurnNotifier pushes turn events to any connected clients. Optional.
type TurnNotifier interface {
	NotifyMessage(userID string, msg models.Message)
}

// Config tunes the orchestrator.
type Config struct {
	HistoryWindow   int
	MaxBackendCalls int
	Temperature     float64
	MaxTokens       int
}

// Orchestrator sequences one turn: quota check, classification, prompt
// synthesis, backend invocation, state mutation and persistence.
type Orchestrator struct {
	backend    interfaces.ChatBackend
	classifier interfaces.PhotoIntentClassifier
	builder    *prompts.Builder
	schedule   prompts.ActivitySchedule
	ledger     *quota.Ledger
	machine    *progression.Machine
	selector   interfaces.MediaSelector

	catalog      interfaces.CatalogStore
	progressions interfaces.ProgressionStore
	usage        interfaces.UsageStore
	messages     interfaces.MessageStore
	locker       interfaces.TurnLocker
	applied      interfaces.IdempotencyStore

	notifier TurnNotifier
	cfg      Config
	log      *logger.Logger
}

type Deps struct {
	Backend      interfaces.ChatBackend
	Classifier   interfaces.PhotoIntentClassifier
	Builder      *prompts.Builder
	Schedule     prompts.ActivitySchedule
	Ledger       *quota.Ledger
	Machine      *progression.Machine
	Selector     interfaces.MediaSelector
	Catalog      interfaces.CatalogStore
	Progressions interfaces.ProgressionStore
	Usage        interfaces.UsageStore
	Messages     interfaces.MessageStore
	Locker       interfaces.TurnLocker
	Applied      interfaces.IdempotencyStore
	Notifier     TurnNotifier
	Config       Config
	Log          *logger.Logger
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Config.HistoryWindow <= 0 {
		d.Config.HistoryWindow = 10
	}
	if d.Config.MaxBackendCalls <= 0 {
		d.Config.MaxBackendCalls = 3
	}
	return &Orchestrator{
		backend:      d.Backend,
		classifier:   d.Classifier,
		builder:      d.Builder,
		schedule:     d.Schedule,
		ledger:       d.Ledger,
		machine:      d.Machine,
		selector:     d.Selector,
		catalog:      d.Catalog,
		progressions: d.Progressions,
		usage:        d.Usage,
		messages:     d.Messages,
		locker:       d.Locker,
		applied:      d.Applied,
		notifier:     d.Notifier,
		cfg:          d.Config,
		log:          d.Log.With("component", "orchestrator"),
	}
}

// Turn runs one conversational turn end to end. All policy outcomes come
// back as typed results; the error return is reserved for storage reads
// failing before anything was generated.
func (o *Orchestrator) Turn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.TurnID == "" {
		in.TurnID = uuid.NewString()
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	convID := o.conversationID(in)

	release, acquired, err := o.locker.Acquire(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("turn lock: %w", err)
	}
	if !acquired {
		return &TurnResult{Status: TurnBusy}, nil
	}
	defer release()

	persona, err := o.catalog.Persona(ctx, in.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}

	var scenario *models.Scenario
	var rec *models.Progression
	var phase *models.Phase
	if in.Mode == models.ModeScenario {
		scenario, err = o.catalog.Scenario(ctx, in.ScenarioID)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		rec, err = o.progressions.GetOrCreate(ctx, in.UserID, in.ScenarioID)
		if err != nil {
			return nil, fmt.Errorf("load progression: %w", err)
		}
		phase = phaseByOrdinal(scenario, rec.PhaseOrdinal)

		// Plan gate at the entry point, distinct from any affinity gate.
		if !in.Plan.AllowsPhase(in.Mode, rec.PhaseOrdinal) {
			return &TurnResult{Status: TurnUpgradeRequired}, nil
		}
	}

	counters, err := o.usage.GetCounters(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	o.ledger.Rollover(counters, in.Now)

	// Fail fast before any generative work. A denied turn touches nothing,
	// so repeating it yields the identical denial.
	if err := o.ledger.Check(counters, in.Plan, quota.KindMessages); err != nil {
		var limit *quota.LimitError
		errors.As(err, &limit)
		return &TurnResult{Status: TurnDenied, Limit: limit}, nil
	}

	// Photo intent only exists in DM; scenario media flows through actions.
	var intent interfaces.Intent
	directive := prompts.None()
	wantPhoto := false
	if in.Mode == models.ModeDirect {
		intent = o.classifier.Classify(in.Utterance)
		switch {
		case intent.IsRequest && len(intent.Categories) > 0:
			if err := o.ledger.Check(counters, in.Plan, quota.KindPhotos); err != nil {
				var limit *quota.LimitError
				errors.As(err, &limit)
				return &TurnResult{Status: TurnDenied, Limit: limit}, nil
			}
			directive = prompts.PhotoAck()
			wantPhoto = true
		case intent.IsRequest:
			directive = prompts.PhotoDisambiguation(o.disambiguationOptions(in.Hour))
		}
	}

	system := o.builder.Build(prompts.Input{
		Persona:   *persona,
		Mode:      in.Mode,
		Locale:    in.Locale,
		Phase:     phase,
		Hour:      in.Hour,
		Schedule:  o.schedule,
		Directive: directive,
	})

	history, err := o.messages.Recent(ctx, convID, o.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	reply, err := o.complete(ctx, system, history, in.Utterance)
	if err != nil {
		return o.failedResult(err, in), nil
	}

	result := &TurnResult{Status: TurnOK, Reply: reply}
	callsUsed := 1

	// The generative call succeeded: from here on, faults are logged but the
	// user still gets the reply.
	o.persistMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           models.RoleUser,
		Content:        in.Utterance,
		CreatedAt:      in.Now,
	})

	assistantMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           models.RoleAssistant,
		Content:        reply,
		CreatedAt:      in.Now,
	}

	if wantPhoto {
		asset, pickErr := o.selector.Pick(ctx, in.UserID, in.PersonaID, intent.Categories)
		if pickErr != nil {
			o.log.Warn("photo selection failed, sending text only",
				"user_id", in.UserID, "persona_id", in.PersonaID, "error", pickErr)
		} else {
			result.Photo = asset
			result.PhotoBlurred = asset.Hard && in.Plan == models.PlanFree
			assistantMsg.MediaRef = asset.Ref
			assistantMsg.Blurred = result.PhotoBlurred
			o.ledger.CommitPhoto(counters)
		}
	}

	o.persistMessage(ctx, assistantMsg)
	o.ledger.CommitMessage(counters)

	// Scenario progression: guard the non-idempotent step with the turn key
	// so a blind caller retry cannot double-apply the delta.
	if in.Mode == models.ModeScenario && rec != nil {
		first, markErr := o.applied.MarkOnce(ctx, in.TurnID)
		if markErr != nil {
			o.log.Error("idempotency marker unavailable, skipping state step",
				"turn_id", in.TurnID, "error", markErr)
		} else if !first {
			result.Status = TurnDuplicate
		} else {
			// A failed write is logged by the machine; the reply still goes
			// out with the computed outcome.
			outcome, _ := o.machine.Apply(ctx, rec, in.Utterance, scenario, in.Plan, in.Mode)
			result.Affinity = outcome.NewAffinity
			result.PhaseOrdinal = outcome.NewPhase
			result.Transitioned = outcome.PhaseChanged
			result.ActiveMediaRef = outcome.ActiveMediaRef

			o.supplement(ctx, in, convID, persona, phase, outcome, &callsUsed, result)
		}
	}

	if err := o.usage.SaveCounters(ctx, counters); err != nil {
		o.log.Error("usage counters write failed",
			"user_id", in.UserID, "error", err)
	}

	return result, nil
}

// supplement issues the unlock/transition announcement calls, sequenced
// after the primary reply and bounded by the per-turn call cap.
func (o *Orchestrator) supplement(
	ctx context.Context,
	in TurnInput,
	convID string,
	persona *models.Persona,
	phase *models.Phase,
	outcome progression.Outcome,
	callsUsed *int,
	result *TurnResult,
) {
	if outcome.UnlockedAction != nil && *callsUsed < o.cfg.MaxBackendCalls {
		o.announce(ctx, in, convID, persona, phase, prompts.Unlock(outcome.UnlockedAction), callsUsed, result)
	}
	if outcome.PhaseChanged && *callsUsed < o.cfg.MaxBackendCalls {
		o.announce(ctx, in, convID, persona, outcome.EnteredPhase, prompts.Transition(outcome.EnteredPhase), callsUsed, result)
	}
}

func (o *Orchestrator) announce(
	ctx context.Context,
	in TurnInput,
	convID string,
	persona *models.Persona,
	phase *models.Phase,
	directive prompts.Directive,
	callsUsed *int,
	result *TurnResult,
) {
	system := o.builder.Build(prompts.Input{
		Persona:   *persona,
		Mode:      in.Mode,
		Locale:    in.Locale,
		Phase:     phase,
		Hour:      in.Hour,
		Schedule:  o.schedule,
		Directive: directive,
	})

	remark, err := o.backend.Complete(ctx, interfaces.CompletionRequest{
		SystemInstructions: system,
		Temperature:        o.cfg.Temperature,
		MaxTokens:          o.cfg.MaxTokens,
	})
	*callsUsed++
	if err != nil {
		// A missing announcement is cosmetic; the turn already succeeded.
		o.log.Warn("supplementary call failed", "turn_id", in.TurnID, "error", err)
		return
	}

	result.Supplementary = append(result.Supplementary, remark)
	o.persistMessage(ctx, &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           models.RoleAssistant,
		Content:        remark,
		CreatedAt:      in.Now,
	})
}

// TriggerAction runs a scenario action: plan gate first, then affinity and
// phase gates, then an ultra-short in-character reaction.
func (o *Orchestrator) TriggerAction(ctx context.Context, in ActionInput) (*TurnResult, error) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	convID := fmt.Sprintf("scenario:%s:%s", in.UserID, in.ScenarioID)

	// Actions share the conversation's turn lock so they cannot interleave
	// with an in-flight chat turn on the same progression record.
	release, acquired, err := o.locker.Acquire(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("turn lock: %w", err)
	}
	if !acquired {
		return &TurnResult{Status: TurnBusy}, nil
	}
	defer release()

	scenario, err := o.catalog.Scenario(ctx, in.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}
	persona, err := o.catalog.Persona(ctx, in.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}

	var action *models.Action
	for i := range scenario.Actions {
		if scenario.Actions[i].ID == in.ActionID {
			action = &scenario.Actions[i]
			break
		}
	}
	if action == nil {
		return nil, fmt.Errorf("action %d not found in scenario %s", in.ActionID, in.ScenarioID)
	}

	rec, err := o.progressions.GetOrCreate(ctx, in.UserID, in.ScenarioID)
	if err != nil {
		return nil, fmt.Errorf("load progression: %w", err)
	}

	// Plan gating is checked before any affinity logic and surfaces its own
	// signal, never an affinity-insufficient one.
	if !in.Plan.AllowsPhase(models.ModeScenario, rec.PhaseOrdinal) {
		return &TurnResult{Status: TurnUpgradeRequired}, nil
	}
	if action.RequiredAffinity > 0 && rec.Affinity < action.RequiredAffinity {
		return &TurnResult{Status: TurnAffinityLocked, Affinity: rec.Affinity}, nil
	}
	if action.PhaseOrdinal != 0 && action.PhaseOrdinal != rec.PhaseOrdinal {
		return &TurnResult{Status: TurnAffinityLocked, Affinity: rec.Affinity}, nil
	}

	counters, err := o.usage.GetCounters(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	o.ledger.Rollover(counters, in.Now)
	if err := o.ledger.Check(counters, in.Plan, quota.KindMessages); err != nil {
		var limit *quota.LimitError
		errors.As(err, &limit)
		return &TurnResult{Status: TurnDenied, Limit: limit}, nil
	}

	phase := phaseByOrdinal(scenario, rec.PhaseOrdinal)
	system := o.builder.Build(prompts.Input{
		Persona:   *persona,
		Mode:      models.ModeScenario,
		Locale:    in.Locale,
		Phase:     phase,
		Directive: prompts.ActionReaction(action),
	})

	reply, err := o.backend.Complete(ctx, interfaces.CompletionRequest{
		SystemInstructions: system,
		Temperature:        o.cfg.Temperature,
		MaxTokens:          40,
	})
	if err != nil {
		return o.failedResult(err, TurnInput{TurnID: in.TurnID, UserID: in.UserID}), nil
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           models.RoleAssistant,
		Content:        reply,
		MediaRef:       action.TriggerMediaRef,
		CreatedAt:      in.Now,
	}
	o.persistMessage(ctx, msg)

	o.ledger.CommitMessage(counters)
	if err := o.usage.SaveCounters(ctx, counters); err != nil {
		o.log.Error("usage counters write failed", "user_id", in.UserID, "error", err)
	}

	result := &TurnResult{
		Status:       TurnOK,
		Reply:        reply,
		Affinity:     rec.Affinity,
		PhaseOrdinal: rec.PhaseOrdinal,
	}
	if action.TriggerMediaRef != "" {
		result.ActiveMediaRef = action.TriggerMediaRef
	}
	return result, nil
}

func (o *Orchestrator) complete(ctx context.Context, system string, history []models.Message, utterance string) (string, error) {
	msgs := make([]interfaces.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, interfaces.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, interfaces.ChatMessage{Role: models.RoleUser, Content: utterance})

	return o.backend.Complete(ctx, interfaces.CompletionRequest{
		SystemInstructions: system,
		Messages:           msgs,
		Temperature:        o.cfg.Temperature,
		MaxTokens:          o.cfg.MaxTokens,
	})
}

// persistMessage appends one history row. A failure here never fails the
// turn; it is logged for out-of-band reconciliation.
func (o *Orchestrator) persistMessage(ctx context.Context, msg *models.Message) {
	if err := o.messages.Append(ctx, msg); err != nil {
		o.log.Error("message append failed",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err)
		return
	}
	if o.notifier != nil && msg.Role == models.RoleAssistant {
		if userID, ok := userFromConversationID(msg.ConversationID); ok {
			o.notifier.NotifyMessage(userID, *msg)
		}
	}
}

func (o *Orchestrator) failedResult(err error, in TurnInput) *TurnResult {
	if errors.Is(err, backend.ErrMissingCredential) {
		o.log.Error("backend credential missing, refusing turns", "turn_id", in.TurnID)
		return &TurnResult{Status: TurnUnavailable}
	}
	o.log.Warn("backend call failed", "turn_id", in.TurnID, "error", err)
	return &TurnResult{Status: TurnFailed}
}

func (o *Orchestrator) conversationID(in TurnInput) string {
	if in.Mode == models.ModeScenario {
		return fmt.Sprintf("scenario:%s:%s", in.UserID, in.ScenarioID)
	}
	return fmt.Sprintf("dm:%s:%s", in.UserID, in.PersonaID)
}

// disambiguationOptions derives the two situational photo options from the
// persona's current activity.
func (o *Orchestrator) disambiguationOptions(hour int) (string, string) {
	activity := ""
	if o.schedule != nil {
		activity = o.schedule.ActivityAt(hour)
	}
	first := "one of me right now"
	if activity != "" {
		first = fmt.Sprintf("one of me right now, %s", activity)
	}
	return first, "a cuter one from earlier today"
}

func phaseByOrdinal(s *models.Scenario, ordinal int) *models.Phase {
	for i := range s.Phases {
		if s.Phases[i].Ordinal == ordinal {
			return &s.Phases[i]
		}
	}
	return nil
}

func userFromConversationID(convID string) (string, bool) {
	// conversation ids are "<kind>:<user>:<peer>"
	parts := strings.SplitN(convID, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
