package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Plan is the subscription tier controlling daily quotas and narrative depth.
type Plan string

const (
	PlanFree      Plan = "free"
	PlanSoft      Plan = "soft"
	PlanUnleashed Plan = "unleashed"
)

// ParsePlan maps a stored plan string to a Plan, defaulting to free.
func ParsePlan(s string) Plan {
	switch Plan(strings.ToLower(s)) {
	case PlanSoft:
		return PlanSoft
	case PlanUnleashed:
		return PlanUnleashed
	default:
		return PlanFree
	}
}

// Persona is an AI companion identity. Immutable for the duration of a turn.
type Persona struct {
	ID            string         `gorm:"primaryKey;size:64" json:"id"`
	Name          string         `gorm:"size:128" json:"name"`
	PersonaPrompt string         `gorm:"type:text" json:"persona_prompt"` // who she is
	StylePrompt   string         `gorm:"type:text" json:"style_prompt"`   // how she talks
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Scenario is a branching narrative attached to a persona.
type Scenario struct {
	ID        string         `gorm:"primaryKey;size:64" json:"id"`
	PersonaID string         `gorm:"index;size:64" json:"persona_id"`
	Title     string         `gorm:"size:255" json:"title"`
	Phases    []Phase        `gorm:"foreignKey:ScenarioID" json:"phases,omitempty"`
	Actions   []Action       `gorm:"foreignKey:ScenarioID" json:"actions,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Phase is one ordered narrative stage of a scenario. Ordinals are 1-based
// and gapless; phase 1 is the entry point for a fresh progression.
type Phase struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	ScenarioID string `gorm:"index:idx_scenario_ordinal,unique;size:64" json:"scenario_id"`
	Ordinal    int    `gorm:"index:idx_scenario_ordinal,unique" json:"ordinal"`
	Location   string `gorm:"size:128" json:"location"`
	Mood       string `gorm:"size:128" json:"mood"`
	// NextPhaseAffinity is the affinity required to advance to ordinal+1.
	// Zero means "use the default threshold".
	NextPhaseAffinity int    `json:"next_phase_affinity"`
	Instructions      string `gorm:"type:text" json:"instructions"`
	LoopMediaRef      string `gorm:"size:255" json:"loop_media_ref"`
}

// Action is a user-triggerable scenario event, optionally scoped to a phase
// (PhaseOrdinal 0 = usable in any phase) and gated by affinity.
type Action struct {
	ID               uint   `gorm:"primaryKey" json:"id"`
	ScenarioID       string `gorm:"index;size:64" json:"scenario_id"`
	PhaseOrdinal     int    `json:"phase_ordinal"`
	Label            string `gorm:"size:128" json:"label"`
	RequiredAffinity int    `json:"required_affinity"` // 0 = always available
	Cost             int    `json:"cost"`
	Hard             bool   `json:"hard"`
	TriggerMediaRef  string `gorm:"size:255" json:"trigger_media_ref"`
}

// Progression holds the per-(user, scenario) affinity/phase state. Created
// lazily on first visit, mutated after every turn, never deleted.
type Progression struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index:idx_user_scenario,unique;size:64" json:"user_id"`
	ScenarioID   string    `gorm:"index:idx_user_scenario,unique;size:64" json:"scenario_id"`
	Affinity     int       `json:"affinity"`
	PhaseOrdinal int       `json:"phase_ordinal"`
	Completed    bool      `json:"completed"`
	// Version guards the read-modify-write: writes are compare-and-swap on
	// this column and bump it by one.
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageCounters tracks a user's daily message/photo consumption. Counts are
// compared against plan limits before any generative call and reset lazily
// when the reference-timezone day rolls over ResetAt.
type UsageCounters struct {
	UserID        string    `gorm:"primaryKey;size:64" json:"user_id"`
	DailyMessages int       `json:"daily_messages"`
	DailyPhotos   int       `json:"daily_photos"`
	ResetAt       time.Time `json:"reset_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one immutable row of a conversation's append-only history.
type Message struct {
	ID             string    `gorm:"primaryKey;size:64" json:"id"`
	ConversationID string    `gorm:"index;size:128" json:"conversation_id"`
	Role           string    `gorm:"size:16" json:"role"` // "user" | "assistant"
	Content        string    `gorm:"type:text" json:"content"`
	MediaRef       string    `gorm:"size:255" json:"media_ref,omitempty"`
	Blurred        bool      `json:"blurred"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MediaAsset is one deliverable photo belonging to a persona. Categories is
// a comma-separated list from the classifier taxonomy.
type MediaAsset struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	PersonaID  string `gorm:"index;size:64" json:"persona_id"`
	Ref        string `gorm:"size:255" json:"ref"`
	Categories string `gorm:"size:255" json:"categories"`
	Hard       bool   `json:"hard"`
}

// CategoryList splits the stored category list.
func (m MediaAsset) CategoryList() []string {
	if m.Categories == "" {
		return nil
	}
	parts := strings.Split(m.Categories, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
