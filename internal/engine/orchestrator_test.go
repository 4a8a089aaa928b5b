package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alavescortez-del/gingerai-sub000/internal/backend"
	"github.com/alavescortez-del/gingerai-sub000/internal/classify"
	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/logger"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
	"github.com/alavescortez-del/gingerai-sub000/internal/progression"
	"github.com/alavescortez-del/gingerai-sub000/internal/prompts"
	"github.com/alavescortez-del/gingerai-sub000/internal/quota"
)

// fakeBackend scripts completions and records every request it saw.
type fakeBackend struct {
	replies  []string
	err      error
	requests []interfaces.CompletionRequest
}

func (f *fakeBackend) Complete(ctx context.Context, req interfaces.CompletionRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.requests) - 1
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "mmh, tell me more", nil
}

type fakeCatalog struct {
	persona  models.Persona
	scenario models.Scenario
}

func (f *fakeCatalog) Persona(ctx context.Context, id string) (*models.Persona, error) {
	p := f.persona
	return &p, nil
}

func (f *fakeCatalog) Scenario(ctx context.Context, id string) (*models.Scenario, error) {
	s := f.scenario
	return &s, nil
}

type fakeProgressions struct {
	stored models.Progression
}

func (f *fakeProgressions) GetOrCreate(ctx context.Context, userID, scenarioID string) (*models.Progression, error) {
	if f.stored.UserID == "" {
		f.stored = models.Progression{UserID: userID, ScenarioID: scenarioID, PhaseOrdinal: 1, Version: 1}
	}
	rec := f.stored
	return &rec, nil
}

func (f *fakeProgressions) Get(ctx context.Context, userID, scenarioID string) (*models.Progression, error) {
	rec := f.stored
	return &rec, nil
}

func (f *fakeProgressions) CompareAndSwap(ctx context.Context, rec *models.Progression) error {
	if rec.Version != f.stored.Version {
		return interfaces.ErrVersionConflict
	}
	f.stored = *rec
	f.stored.Version++
	rec.Version++
	return nil
}

type fakeUsage struct {
	stored models.UsageCounters
}

func (f *fakeUsage) GetCounters(ctx context.Context, userID string) (*models.UsageCounters, error) {
	c := f.stored
	c.UserID = userID
	return &c, nil
}

func (f *fakeUsage) SaveCounters(ctx context.Context, counters *models.UsageCounters) error {
	f.stored = *counters
	return nil
}

type fakeMessages struct {
	appended []models.Message
}

func (f *fakeMessages) Append(ctx context.Context, msg *models.Message) error {
	f.appended = append(f.appended, *msg)
	return nil
}

func (f *fakeMessages) Recent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var out []models.Message
	for _, m := range f.appended {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeLocker struct {
	busy bool
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (func(), bool, error) {
	if f.busy {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type fakeApplied struct {
	marked map[string]bool
}

func (f *fakeApplied) MarkOnce(ctx context.Context, turnKey string) (bool, error) {
	if f.marked == nil {
		f.marked = make(map[string]bool)
	}
	if f.marked[turnKey] {
		return false, nil
	}
	f.marked[turnKey] = true
	return true, nil
}

type fakeSelector struct {
	asset *models.MediaAsset
	err   error
	calls int
}

func (f *fakeSelector) Pick(ctx context.Context, userID, personaID string, categories []string) (*models.MediaAsset, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.asset, nil
}

type fakeNotifier struct {
	notified []models.Message
	users    []string
}

func (f *fakeNotifier) NotifyMessage(userID string, msg models.Message) {
	f.users = append(f.users, userID)
	f.notified = append(f.notified, msg)
}

type fixture struct {
	backend      *fakeBackend
	catalog      *fakeCatalog
	progressions *fakeProgressions
	usage        *fakeUsage
	messages     *fakeMessages
	locker       *fakeLocker
	applied      *fakeApplied
	selector     *fakeSelector
	notifier     *fakeNotifier
	orch         *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		backend: &fakeBackend{},
		catalog: &fakeCatalog{
			persona: models.Persona{ID: "p1", Name: "Lena", PersonaPrompt: "a photographer", StylePrompt: "teasing"},
			scenario: models.Scenario{
				ID: "s1",
				Phases: []models.Phase{
					{ScenarioID: "s1", Ordinal: 1, Location: "bar", NextPhaseAffinity: 50, LoopMediaRef: "loop-1"},
					{ScenarioID: "s1", Ordinal: 2, Location: "home", NextPhaseAffinity: 80, LoopMediaRef: "loop-2"},
					{ScenarioID: "s1", Ordinal: 3, Location: "away", LoopMediaRef: "loop-3"},
				},
				Actions: []models.Action{
					{ID: 1, ScenarioID: "s1", Label: "slow dance", RequiredAffinity: 70},
				},
			},
		},
		progressions: &fakeProgressions{},
		usage:        &fakeUsage{stored: models.UsageCounters{ResetAt: time.Now()}},
		messages:     &fakeMessages{},
		locker:       &fakeLocker{},
		applied:      &fakeApplied{},
		selector:     &fakeSelector{asset: &models.MediaAsset{PersonaID: "p1", Ref: "sport-1.jpg", Categories: "sport"}},
		notifier:     &fakeNotifier{},
	}

	log := logger.NewNop()
	f.orch = NewOrchestrator(Deps{
		Backend:      f.backend,
		Classifier:   classify.NewPatternClassifier(),
		Builder:      prompts.NewBuilder(),
		Schedule:     prompts.NewDefaultSchedule(),
		Ledger:       quota.NewLedger(time.UTC),
		Machine:      progression.NewMachine(f.progressions, log),
		Selector:     f.selector,
		Catalog:      f.catalog,
		Progressions: f.progressions,
		Usage:        f.usage,
		Messages:     f.messages,
		Locker:       f.locker,
		Applied:      f.applied,
		Notifier:     f.notifier,
		Config:       Config{HistoryWindow: 10, MaxBackendCalls: 3},
		Log:          log,
	})
	return f
}

func dmInput(utterance string) TurnInput {
	return TurnInput{
		UserID:    "u1",
		Plan:      models.PlanUnleashed,
		Mode:      models.ModeDirect,
		PersonaID: "p1",
		Utterance: utterance,
		Locale:    "en-US",
		Hour:      15,
		Now:       time.Now(),
	}
}

func scenarioInput(utterance string) TurnInput {
	in := dmInput(utterance)
	in.Mode = models.ModeScenario
	in.ScenarioID = "s1"
	return in
}

func TestTurnHappyPath(t *testing.T) {
	f := newFixture()

	result, err := f.orch.Turn(context.Background(), dmInput("how was your day?"))
	require.NoError(t, err)
	assert.Equal(t, TurnOK, result.Status)
	assert.NotEmpty(t, result.Reply)

	// user + assistant rows appended, one message charged.
	require.Len(t, f.messages.appended, 2)
	assert.Equal(t, models.RoleUser, f.messages.appended[0].Role)
	assert.Equal(t, models.RoleAssistant, f.messages.appended[1].Role)
	assert.Equal(t, 1, f.usage.stored.DailyMessages)
}

func TestQuotaMonotonicity(t *testing.T) {
	f := newFixture()

	for i := 0; i < 5; i++ {
		in := dmInput("hey")
		in.Plan = models.PlanFree
		result, err := f.orch.Turn(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, TurnOK, result.Status)
	}
	assert.Equal(t, 5, f.usage.stored.DailyMessages)
}

func TestDeniedPathIsIdempotent(t *testing.T) {
	f := newFixture()
	f.usage.stored.DailyMessages = 5

	in := dmInput("hey")
	in.Plan = models.PlanFree

	first, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)
	second, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, TurnDenied, first.Status)
	assert.Equal(t, *first.Limit, *second.Limit)
	assert.Equal(t, quota.KindMessages, first.Limit.Kind)
	assert.Equal(t, models.PlanFree, first.Limit.Plan)

	// No backend call, no persisted rows, counters untouched.
	assert.Empty(t, f.backend.requests)
	assert.Empty(t, f.messages.appended)
	assert.Equal(t, 5, f.usage.stored.DailyMessages)
}

func TestPhotoCategoryBranchSendsDirectly(t *testing.T) {
	f := newFixture()

	result, err := f.orch.Turn(context.Background(), dmInput("send me a workout pic"))
	require.NoError(t, err)

	require.Equal(t, TurnOK, result.Status)
	require.NotNil(t, result.Photo)
	assert.Equal(t, "sport-1.jpg", result.Photo.Ref)
	assert.Equal(t, 1, f.usage.stored.DailyPhotos)

	// The acknowledgment instruction rode along with the primary call.
	require.Len(t, f.backend.requests, 1)
	assert.Contains(t, f.backend.requests[0].SystemInstructions, "attached to your reply automatically")

	// The assistant row carries the media ref.
	require.Len(t, f.messages.appended, 2)
	assert.Equal(t, "sport-1.jpg", f.messages.appended[1].MediaRef)
}

func TestPhotoNoCategoryBranchDisambiguates(t *testing.T) {
	f := newFixture()

	result, err := f.orch.Turn(context.Background(), dmInput("send me a pic"))
	require.NoError(t, err)

	require.Equal(t, TurnOK, result.Status)
	assert.Nil(t, result.Photo)
	assert.Equal(t, 0, f.selector.calls)
	assert.Equal(t, 0, f.usage.stored.DailyPhotos)

	require.Len(t, f.backend.requests, 1)
	assert.Contains(t, f.backend.requests[0].SystemInstructions, "Do not send or promise anything yet")
}

func TestIncidentalPhotoMentionIsNotARequest(t *testing.T) {
	f := newFixture()

	result, err := f.orch.Turn(context.Background(), dmInput("I have a photo of us somewhere"))
	require.NoError(t, err)

	assert.Equal(t, TurnOK, result.Status)
	assert.Nil(t, result.Photo)
	assert.Equal(t, 0, f.selector.calls)
}

func TestPhotoQuotaDenial(t *testing.T) {
	f := newFixture()
	f.usage.stored.DailyPhotos = 5

	in := dmInput("send me a workout pic")
	in.Plan = models.PlanFree

	result, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, TurnDenied, result.Status)
	assert.Equal(t, quota.KindPhotos, result.Limit.Kind)
	assert.Empty(t, f.backend.requests)
}

func TestEndToEndPhaseTransition(t *testing.T) {
	f := newFixture()
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 48, PhaseOrdinal: 1, Version: 1,
	}
	f.backend.replies = []string{"come closer then", "let me show you my place"}

	utterance := strings.Repeat("y", 80) + " kiss me??"
	result, err := f.orch.Turn(context.Background(), scenarioInput(utterance))
	require.NoError(t, err)

	require.Equal(t, TurnOK, result.Status)
	// Delta 2+3+5+2+8 = 20, capped to 15: 48 -> 63 crosses the threshold.
	assert.Equal(t, 63, result.Affinity)
	assert.Equal(t, 2, result.PhaseOrdinal)
	assert.True(t, result.Transitioned)
	assert.Equal(t, "loop-2", result.ActiveMediaRef)

	// Supplementary transition remark generated and persisted after the
	// primary reply.
	require.Len(t, f.backend.requests, 2)
	assert.Contains(t, f.backend.requests[1].SystemInstructions, "the story moves on to home")
	require.Len(t, f.messages.appended, 3)
	assert.Equal(t, "let me show you my place", f.messages.appended[2].Content)
	assert.Equal(t, []string{"let me show you my place"}, result.Supplementary)

	// State persisted through the CAS write.
	assert.Equal(t, 63, f.progressions.stored.Affinity)
	assert.Equal(t, 2, f.progressions.stored.PhaseOrdinal)
}

func TestUnlockAnnouncement(t *testing.T) {
	f := newFixture()
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 60, PhaseOrdinal: 2, Version: 1,
	}

	// Delta 2+3+2+8 = 15: the window (60, 75] crosses the action gate at 70
	// but stays below the phase threshold at 80.
	utterance := "would you dance with me and kiss me tonight?"
	result, err := f.orch.Turn(context.Background(), scenarioInput(utterance))
	require.NoError(t, err)

	require.Equal(t, TurnOK, result.Status)
	require.Len(t, f.backend.requests, 2)
	assert.Contains(t, f.backend.requests[1].SystemInstructions, `"slow dance"`)
	assert.Len(t, result.Supplementary, 1)
}

func TestBackendFaultCommitsNothing(t *testing.T) {
	f := newFixture()
	f.backend.err = errors.New("upstream 500")

	result, err := f.orch.Turn(context.Background(), scenarioInput("hello"))
	require.NoError(t, err)

	assert.Equal(t, TurnFailed, result.Status)
	assert.Empty(t, f.messages.appended)
	assert.Equal(t, 0, f.usage.stored.DailyMessages)
	assert.Equal(t, 0, f.progressions.stored.Affinity)
	// The turn key was not consumed: a retry can run the state step.
	assert.Empty(t, f.applied.marked)
}

func TestMissingCredentialIsConfigurationFault(t *testing.T) {
	f := newFixture()
	f.backend.err = backend.ErrMissingCredential

	result, err := f.orch.Turn(context.Background(), dmInput("hello"))
	require.NoError(t, err)
	assert.Equal(t, TurnUnavailable, result.Status)
}

func TestConcurrentTurnIsBusy(t *testing.T) {
	f := newFixture()
	f.locker.busy = true

	result, err := f.orch.Turn(context.Background(), dmInput("hello"))
	require.NoError(t, err)
	assert.Equal(t, TurnBusy, result.Status)
	assert.Empty(t, f.backend.requests)
}

func TestDuplicateTurnKeySkipsStateStep(t *testing.T) {
	f := newFixture()
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 10, PhaseOrdinal: 1, Version: 1,
	}

	in := scenarioInput("hello there")
	in.TurnID = "turn-1"

	first, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, TurnOK, first.Status)
	affinityAfterFirst := f.progressions.stored.Affinity

	second, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, TurnDuplicate, second.Status)
	// The delta was not applied a second time.
	assert.Equal(t, affinityAfterFirst, f.progressions.stored.Affinity)
}

func TestPlanGateBlocksDeepPhaseEntry(t *testing.T) {
	f := newFixture()
	// A record already in phase 2 (e.g. after a downgrade) on a free plan.
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 60, PhaseOrdinal: 2, Version: 1,
	}

	in := scenarioInput("hello")
	in.Plan = models.PlanFree

	result, err := f.orch.Turn(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, TurnUpgradeRequired, result.Status)
	assert.Empty(t, f.backend.requests)
}

func TestHistoryWindowIsBounded(t *testing.T) {
	f := newFixture()
	for i := 0; i < 30; i++ {
		f.messages.appended = append(f.messages.appended, models.Message{
			ConversationID: "dm:u1:p1",
			Role:           models.RoleUser,
			Content:        "older",
		})
	}

	_, err := f.orch.Turn(context.Background(), dmInput("newest"))
	require.NoError(t, err)

	require.Len(t, f.backend.requests, 1)
	// 10 history messages plus the new utterance.
	assert.Len(t, f.backend.requests[0].Messages, 11)
	assert.Equal(t, "newest", f.backend.requests[0].Messages[10].Content)
}

func TestUserFromConversationID(t *testing.T) {
	tests := []struct {
		convID   string
		wantUser string
		wantOK   bool
	}{
		{"dm:u1:p1", "u1", true},
		{"scenario:u1:s1", "u1", true},
		{"scenario:u1:s1:extra", "u1", true},
		{"malformed", "", false},
		{"dm:u1", "", false},
		{"dm::p1", "", false},
	}
	for _, tt := range tests {
		user, ok := userFromConversationID(tt.convID)
		assert.Equal(t, tt.wantOK, ok, tt.convID)
		assert.Equal(t, tt.wantUser, user, tt.convID)
	}
}

func TestTurnNotifiesConnectedClients(t *testing.T) {
	f := newFixture()

	result, err := f.orch.Turn(context.Background(), dmInput("good morning"))
	require.NoError(t, err)
	require.Equal(t, TurnOK, result.Status)

	// Only assistant messages fan out, addressed to the turn's user.
	require.Len(t, f.notifier.notified, 1)
	assert.Equal(t, "u1", f.notifier.users[0])
	assert.Equal(t, models.RoleAssistant, f.notifier.notified[0].Role)
	assert.Equal(t, result.Reply, f.notifier.notified[0].Content)
}

func TestTransitionNotifiesSupplementaryMessage(t *testing.T) {
	f := newFixture()
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 48, PhaseOrdinal: 1, Version: 1,
	}

	utterance := strings.Repeat("y", 80) + " kiss me??"
	result, err := f.orch.Turn(context.Background(), scenarioInput(utterance))
	require.NoError(t, err)
	require.Equal(t, TurnOK, result.Status)
	require.True(t, result.Transitioned)

	// Primary reply plus the transition remark both reach the hub.
	require.Len(t, f.notifier.notified, 2)
	for _, u := range f.notifier.users {
		assert.Equal(t, "u1", u)
	}
}

func TestTriggerActionIsBusyUnderLock(t *testing.T) {
	f := newFixture()
	f.locker.busy = true
	f.progressions.stored = models.Progression{
		UserID: "u1", ScenarioID: "s1", Affinity: 75, PhaseOrdinal: 1, Version: 1,
	}

	result, err := f.orch.TriggerAction(context.Background(), ActionInput{
		UserID: "u1", Plan: models.PlanUnleashed, PersonaID: "p1", ScenarioID: "s1", ActionID: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, TurnBusy, result.Status)
	assert.Empty(t, f.backend.requests)
	assert.Empty(t, f.messages.appended)
	assert.Equal(t, 0, f.usage.stored.DailyMessages)
}

func TestTriggerActionGates(t *testing.T) {
	f := newFixture()

	t.Run("affinity locked", func(t *testing.T) {
		f.progressions.stored = models.Progression{
			UserID: "u1", ScenarioID: "s1", Affinity: 10, PhaseOrdinal: 1, Version: 1,
		}
		result, err := f.orch.TriggerAction(context.Background(), ActionInput{
			UserID: "u1", Plan: models.PlanUnleashed, PersonaID: "p1", ScenarioID: "s1", ActionID: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, TurnAffinityLocked, result.Status)
	})

	t.Run("plan gated before affinity", func(t *testing.T) {
		f.progressions.stored = models.Progression{
			UserID: "u1", ScenarioID: "s1", Affinity: 10, PhaseOrdinal: 2, Version: 1,
		}
		result, err := f.orch.TriggerAction(context.Background(), ActionInput{
			UserID: "u1", Plan: models.PlanFree, PersonaID: "p1", ScenarioID: "s1", ActionID: 1,
		})
		require.NoError(t, err)
		// Distinct signal: upgrade, not "not enough affinity".
		assert.Equal(t, TurnUpgradeRequired, result.Status)
	})

	t.Run("success", func(t *testing.T) {
		f.progressions.stored = models.Progression{
			UserID: "u1", ScenarioID: "s1", Affinity: 75, PhaseOrdinal: 1, Version: 1,
		}
		result, err := f.orch.TriggerAction(context.Background(), ActionInput{
			UserID: "u1", Plan: models.PlanUnleashed, PersonaID: "p1", ScenarioID: "s1", ActionID: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, TurnOK, result.Status)
		assert.NotEmpty(t, result.Reply)
		last := f.backend.requests[len(f.backend.requests)-1]
		assert.Contains(t, last.SystemInstructions, "five words or fewer")
	})
}
