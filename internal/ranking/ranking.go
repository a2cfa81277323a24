package ranking

import (
	"sort"

	"github.com/DoyleJ11/focus-room-backend/internal/scoring"
	"github.com/DoyleJ11/focus-room-backend/pkg/types"
)

// Badge is awarded to participants whose final score reaches MinScore.
type Badge struct {
	Name     string
	MinScore int64
}

// Rank orders entries by score descending, then by the earliest time the
// score was reached, then by participant id. Ranks are 1-based and unique.
func Rank(entries []scoring.Entry) []types.Standing {
	sorted := append([]scoring.Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.ParticipantID < b.ParticipantID
	})

	out := make([]types.Standing, 0, len(sorted))
	for i, e := range sorted {
		out = append(out, types.Standing{ParticipantID: e.ParticipantID, Score: e.Score, Rank: i + 1})
	}
	return out
}

// BadgeFor returns the highest tier reached, or "".
func BadgeFor(score int64, badges []Badge) string {
	best := ""
	bestMin := int64(-1)
	for _, b := range badges {
		if score >= b.MinScore && b.MinScore > bestMin {
			best, bestMin = b.Name, b.MinScore
		}
	}
	return best
}

// Final builds the closing results of a competition.
func Final(entries []scoring.Entry, badges []Badge) types.Results {
	standings := Rank(entries)
	res := types.Results{Standings: standings, Badges: map[string]string{}}
	if len(standings) > 0 {
		res.Winner = standings[0].ParticipantID
	}
	for _, s := range standings {
		if name := BadgeFor(s.Score, badges); name != "" {
			res.Badges[s.ParticipantID] = name
		}
	}
	return res
}
