package quota

import (
	"fmt"
	"time"

	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// Kind names the quota dimension being consumed.
type Kind string

const (
	KindMessages Kind = "messages"
	KindPhotos   Kind = "photos"
)

// LimitError is the structured "limit reached" denial. It is policy, not a
// system fault: the caller renders an upgrade prompt from Kind and Plan.
type LimitError struct {
	Kind Kind
	Plan models.Plan
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("daily %s limit reached on plan %q", e.Kind, e.Plan)
}

// Ledger enforces per-user daily quotas against plan-derived limits. The day
// boundary is evaluated in a fixed reference timezone.
type Ledger struct {
	loc *time.Location
}

func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc}
}

// Rollover zeroes the counters when the reference-timezone day has rolled
// over since ResetAt. Pure function of stored state and now; there is no
// background reset job. Reports whether a reset happened.
func (l *Ledger) Rollover(c *models.UsageCounters, now time.Time) bool {
	if sameDay(c.ResetAt.In(l.loc), now.In(l.loc)) {
		return false
	}
	c.DailyMessages = 0
	c.DailyPhotos = 0
	c.ResetAt = now
	return true
}

// Check reports whether one more unit of kind is allowed. A denied check
// must short-circuit the turn: no backend call, no counter change.
func (l *Ledger) Check(c *models.UsageCounters, plan models.Plan, kind Kind) error {
	limits := plan.Limits()

	var count, limit int
	switch kind {
	case KindPhotos:
		count, limit = c.DailyPhotos, limits.Photos
	default:
		count, limit = c.DailyMessages, limits.Messages
	}

	if limit == models.Unlimited {
		return nil
	}
	if count >= limit {
		return &LimitError{Kind: kind, Plan: plan}
	}
	return nil
}

// CommitMessage charges one message. Called only after the generative call
// succeeded, never speculatively.
func (l *Ledger) CommitMessage(c *models.UsageCounters) {
	c.DailyMessages++
}

// CommitPhoto charges one photo. Called only once a photo was actually
// selected and attached.
func (l *Ledger) CommitPhoto(c *models.UsageCounters) {
	c.DailyPhotos++
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
