package query

import (
	"sort"
	"strings"

	"github.com/dharsanguruparan/docchat/internal/model"
)

// KeywordSearch scores each chunk by how many question words (longer than
// two characters, repeats counted) occur in it and returns the best k with a
// positive score. Ties go to the later chunk.
func KeywordSearch(question string, chunks []model.Chunk, k int) []model.ScoredChunk {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len(w) > 2 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}
	var scored []model.ScoredChunk
	for _, c := range chunks {
		lower := strings.ToLower(c.Text)
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, model.ScoredChunk{Chunk: c, Score: float64(score)})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Index > scored[j].Index
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}
