package rewards

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"cardwise-api/internal/apperrors"
	"cardwise-api/internal/models"
)

// TopPerCategory is how many recommendations each category keeps.
const TopPerCategory = 3

// Store is the slice of storage the finder needs. *database.DB satisfies it.
type Store interface {
	ListRewardCategoryNames(ctx context.Context) ([]string, error)
	ListOwnedCardIDs(ctx context.Context, userID string) ([]string, error)
	ListRewardEdgesForCards(ctx context.Context, cardIDs []string) ([]models.RewardEdge, error)
}

// Finder computes, for every known reward category, the top owned cards
// ranked by reward rate. It is stateless; every call fetches a fresh
// snapshot.
type Finder struct {
	store Store
}

// NewFinder creates a new Finder.
func NewFinder(store Store) *Finder {
	return &Finder{store: store}
}

// Rate is a reward rate coerced from raw storage text. Legacy rows carry
// non-numeric values; those coerce to 0 and still compete, ranking below
// every valid rate rather than being dropped.
type Rate struct {
	Value float64
	Valid bool
}

// ParseRate coerces a raw reward-rate string. "4", "4.0", "4x" and "4%"
// all parse to 4; anything else is the zero rate.
func ParseRate(raw string) Rate {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
	s = strings.TrimSpace(s)
	if s == "" {
		return Rate{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return Rate{}
	}
	return Rate{Value: v, Valid: true}
}

// BestCardsByCategory returns a mapping from every known category name to
// the user's top owned cards for that category, rate descending, at most
// TopPerCategory entries each. Categories with no qualifying card map to an
// empty list so gaps stay visible to the caller.
//
// Ties on rate are broken by card name ascending; the output is fully
// deterministic.
func (f *Finder) BestCardsByCategory(ctx context.Context, userID string) (map[string][]models.CardRecommendation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.KindInvalidArgument, "user id is required")
	}

	categories, err := f.store.ListRewardCategoryNames(ctx)
	if err != nil {
		return nil, storageErr(ctx, err)
	}

	result := make(map[string][]models.CardRecommendation, len(categories))
	known := make(map[string]bool, len(categories))
	for _, name := range categories {
		result[name] = []models.CardRecommendation{}
		known[name] = true
	}

	ownedIDs, err := f.store.ListOwnedCardIDs(ctx, userID)
	if err != nil {
		return nil, storageErr(ctx, err)
	}
	if len(ownedIDs) == 0 {
		// A user with no saved cards is a normal terminal state.
		return result, nil
	}

	edges, err := f.store.ListRewardEdgesForCards(ctx, ownedIDs)
	if err != nil {
		return nil, storageErr(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindCanceled, err)
	}

	// Dedup by (category, card): a card with several edges in one category
	// (time-boxed promos) keeps only its highest rate.
	type pairKey struct {
		category string
		card     string
	}
	best := make(map[pairKey]models.CardRecommendation)
	for _, edge := range edges {
		if !known[edge.CategoryName] {
			// Referential-integrity problem upstream; skip the single edge.
			continue
		}
		if strings.TrimSpace(edge.CardName) == "" {
			continue
		}

		rate := ParseRate(edge.RawRate)
		rec := models.CardRecommendation{
			CardName:          edge.CardName,
			CardIssuer:        edge.CardIssuer,
			RewardRate:        rate.Value,
			RewardDescription: edge.Description,
		}

		key := pairKey{category: edge.CategoryName, card: edge.CardID}
		if existing, ok := best[key]; !ok || rec.RewardRate > existing.RewardRate {
			best[key] = rec
		}
	}

	for key, rec := range best {
		result[key.category] = append(result[key.category], rec)
	}

	for name, recs := range result {
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].RewardRate != recs[j].RewardRate {
				return recs[i].RewardRate > recs[j].RewardRate
			}
			return recs[i].CardName < recs[j].CardName
		})
		if len(recs) > TopPerCategory {
			recs = recs[:TopPerCategory]
		}
		result[name] = recs
	}

	return result, nil
}

// BestRewardForCard picks a card's single highest-rate edge out of a
// pre-fetched edge list. Used for the wallet listing join.
func BestRewardForCard(cardID string, edges []models.RewardEdge) (rate float64, description string) {
	found := false
	for _, edge := range edges {
		if edge.CardID != cardID {
			continue
		}
		r := ParseRate(edge.RawRate)
		if !found || r.Value > rate {
			rate = r.Value
			description = edge.Description
			found = true
		}
	}
	return rate, description
}

// storageErr classifies a failed fetch: caller cancellation wins over a
// generic storage failure.
func storageErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Wrap(apperrors.KindCanceled, ctx.Err())
	}
	return apperrors.Wrap(apperrors.KindUnavailable, err)
}
