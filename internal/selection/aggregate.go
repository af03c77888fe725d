package selection

import (
	"sort"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
)

// Aggregate collapses per-group picks into chosen locations ordered by query index.
// Nil entries are ignored and the last pick for a query index wins. Picks that name a missing
// group or an out-of-range candidate are dropped. The result is never nil.
func Aggregate(candidates models.CandidateSet, selections []*models.Selection) []models.ChosenLocation {
	picks := make(map[int]int, len(selections))
	for _, sel := range selections {
		if sel == nil {
			continue
		}
		picks[sel.QueryIndex] = sel.CandidateIndex
	}

	indexes := make([]int, 0, len(picks))
	for idx := range picks {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	chosen := make([]models.ChosenLocation, 0, len(indexes))
	for _, idx := range indexes {
		group, ok := candidates[idx]
		if !ok {
			continue
		}
		ci := picks[idx]
		if ci < 0 || ci >= len(group.Candidates) {
			continue
		}
		cand := group.Candidates[ci]
		chosen = append(chosen, models.ChosenLocation{City: cand.City, Key: cand.Key})
	}
	return chosen
}
