package domain

import "sort"

// Rank orders players by score desc, then by who reached the score earlier, then by name.
func Rank(players []Player) []LeaderboardEntry {
	sorted := make([]Player, len(players))
	copy(sorted, players)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.Before(sorted[j].UpdatedAt)
		}
		return sorted[i].DisplayName < sorted[j].DisplayName
	})

	entries := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		if i > 0 && p.Score == sorted[i-1].Score {
			rank = entries[i-1].Rank
		}
		entries[i] = LeaderboardEntry{
			Rank:        rank,
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
		}
	}
	return entries
}
