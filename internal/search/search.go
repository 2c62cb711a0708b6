package search

import (
	"sort"
	"strings"

	"cardwise-api/internal/models"
)

const (
	// MinQueryLen is the documented minimum query length. Shorter queries
	// return an empty result without contacting storage.
	MinQueryLen = 3
	// MaxResults caps the ranked output.
	MaxResults = 5
	// CandidateLimit is the storage-side pre-filter limit.
	CandidateLimit = 25
)

// QueryTooShort reports whether a query falls under the minimum length
// policy after trimming.
func QueryTooShort(query string) bool {
	return len([]rune(strings.TrimSpace(query))) < MinQueryLen
}

type scoredCandidate struct {
	candidate  models.SearchCandidate
	matchIndex int
	suffix     string
}

// RankMatches filters candidates to real substring matches of the query and
// ranks them: earlier match position first, then the lower-cased suffix
// following the match, then the full original name. The result is a total
// order and is capped at MaxResults.
//
// Candidates are expected to be pre-filtered by storage with a
// case-insensitive substring match; anything that slips through without an
// actual match (locale-sensitive case folding, say) is excluded here, not
// treated as an error.
func RankMatches(query string, candidates []models.SearchCandidate) []models.SearchCandidate {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		lower := strings.ToLower(c.Name)
		idx := strings.Index(lower, q)
		if idx < 0 {
			continue
		}
		scored = append(scored, scoredCandidate{
			candidate:  c,
			matchIndex: idx,
			suffix:     lower[idx+len(q):],
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].matchIndex != scored[j].matchIndex {
			return scored[i].matchIndex < scored[j].matchIndex
		}
		if scored[i].suffix != scored[j].suffix {
			return scored[i].suffix < scored[j].suffix
		}
		return scored[i].candidate.Name < scored[j].candidate.Name
	})

	if len(scored) > MaxResults {
		scored = scored[:MaxResults]
	}

	results := make([]models.SearchCandidate, len(scored))
	for i, s := range scored {
		results[i] = s.candidate
	}
	return results
}
