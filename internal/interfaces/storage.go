package interfaces

import (
	"context"
	"errors"

	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// ErrVersionConflict is returned by ProgressionStore.CompareAndSwap when the
// stored record moved underneath the caller.
var ErrVersionConflict = errors.New("progression version conflict")

// CatalogStore reads the immutable persona/scenario configuration.
type CatalogStore interface {
	Persona(ctx context.Context, id string) (*models.Persona, error)
	// Scenario returns the scenario with its phases ordered by ordinal and
	// its actions in stable (primary key) order.
	Scenario(ctx context.Context, id string) (*models.Scenario, error)
}

// ProgressionStore reads and writes per-(user, scenario) progression.
type ProgressionStore interface {
	// GetOrCreate lazily creates a fresh record at phase 1, affinity 0.
	GetOrCreate(ctx context.Context, userID, scenarioID string) (*models.Progression, error)
	Get(ctx context.Context, userID, scenarioID string) (*models.Progression, error)
	// CompareAndSwap writes the new affinity/phase/completed fields only if
	// the stored version still matches rec.Version, bumping the version on
	// success. Returns ErrVersionConflict otherwise.
	CompareAndSwap(ctx context.Context, rec *models.Progression) error
}

// UsageStore reads and writes per-user daily counters.
type UsageStore interface {
	GetCounters(ctx context.Context, userID string) (*models.UsageCounters, error)
	SaveCounters(ctx context.Context, counters *models.UsageCounters) error
}

// MessageStore is the append-only conversation history.
type MessageStore interface {
	Append(ctx context.Context, msg *models.Message) error
	// Recent returns up to limit messages, oldest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// MediaStore reads a persona's deliverable photo pool.
type MediaStore interface {
	AssetsForPersona(ctx context.Context, personaID string) ([]models.MediaAsset, error)
}

// DeliveryLog remembers which media refs were already sent to a
// (user, persona) pair, so the selector never repeats one until the pool is
// exhausted.
type DeliveryLog interface {
	Delivered(ctx context.Context, userID, personaID string) (map[string]bool, error)
	MarkDelivered(ctx context.Context, userID, personaID, ref string) error
	ClearDelivered(ctx context.Context, userID, personaID string) error
}

// MediaSelector picks one not-yet-delivered photo matching the requested
// categories.
type MediaSelector interface {
	Pick(ctx context.Context, userID, personaID string, categories []string) (*models.MediaAsset, error)
}

// TurnLocker serializes concurrent turns for the same (user, conversation)
// pair. Acquire reports false when another turn holds the lock.
type TurnLocker interface {
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// IdempotencyStore records turn keys that already had their state-machine
// step applied, so a blind caller retry cannot double-apply an affinity
// delta. MarkOnce reports true exactly once per key.
type IdempotencyStore interface {
	MarkOnce(ctx context.Context, turnKey string) (bool, error)
}
