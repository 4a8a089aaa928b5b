package media

import (
	"context"
	"errors"

	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// ErrNoMedia means the persona has no asset matching the request at all.
var ErrNoMedia = errors.New("media: no matching asset")

// Selector picks photos for delivery, rotating through the persona's pool
// without repeats per (user, persona) until it is exhausted.
type Selector struct {
	assets    interfaces.MediaStore
	delivered interfaces.DeliveryLog
}

func NewSelector(assets interfaces.MediaStore, delivered interfaces.DeliveryLog) *Selector {
	return &Selector{assets: assets, delivered: delivered}
}

// Pick returns one asset matching any of the requested categories that this
// user has not yet received from this persona. Once every matching asset has
// been delivered, the history is cleared and the pool reused. Empty
// categories match the whole pool.
func (s *Selector) Pick(ctx context.Context, userID, personaID string, categories []string) (*models.MediaAsset, error) {
	pool, err := s.assets.AssetsForPersona(ctx, personaID)
	if err != nil {
		return nil, err
	}

	matching := filterByCategory(pool, categories)
	if len(matching) == 0 {
		return nil, ErrNoMedia
	}

	seen, err := s.delivered.Delivered(ctx, userID, personaID)
	if err != nil {
		return nil, err
	}

	pick := firstUnseen(matching, seen)
	if pick == nil {
		// Pool exhausted for this pair: start over.
		if err := s.delivered.ClearDelivered(ctx, userID, personaID); err != nil {
			return nil, err
		}
		pick = &matching[0]
	}

	if err := s.delivered.MarkDelivered(ctx, userID, personaID, pick.Ref); err != nil {
		return nil, err
	}
	return pick, nil
}

func filterByCategory(pool []models.MediaAsset, categories []string) []models.MediaAsset {
	if len(categories) == 0 {
		return pool
	}
	wanted := make(map[string]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
	}

	var out []models.MediaAsset
	for _, asset := range pool {
		for _, c := range asset.CategoryList() {
			if wanted[c] {
				out = append(out, asset)
				break
			}
		}
	}
	return out
}

func firstUnseen(pool []models.MediaAsset, seen map[string]bool) *models.MediaAsset {
	for i := range pool {
		if !seen[pool[i].Ref] {
			return &pool[i]
		}
	}
	return nil
}
