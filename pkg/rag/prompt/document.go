package prompt

import (
	"sort"
	"strings"

	"campus-qa-be/pkg/utils"
)

const (
	documentChunkRunes   = 600
	documentChunkOverlap = 100
)

// DocumentExcerpt fits a long document into the prompt budget. The opening chunk
// is always kept; the rest of the budget goes to the chunks sharing the most
// words with the query, printed in document order.
func DocumentExcerpt(document, query string) string {
	chunks := utils.SplitText(document, documentChunkRunes, documentChunkOverlap)
	if len(chunks) <= 1 {
		return document
	}

	queryWords := map[string]struct{}{}
	for _, w := range utils.Words(query, 2) {
		queryWords[w] = struct{}{}
	}

	type scored struct {
		index int
		hits  int
	}
	ranked := make([]scored, 0, len(chunks)-1)
	for i := 1; i < len(chunks); i++ {
		hits := 0
		for _, w := range utils.Words(chunks[i], 2) {
			if _, ok := queryWords[w]; ok {
				hits++
			}
		}
		ranked = append(ranked, scored{index: i, hits: hits})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].hits > ranked[b].hits })

	picked := []int{0}
	budget := maxDocumentRunes - len([]rune(chunks[0]))
	for _, r := range ranked {
		size := len([]rune(chunks[r.index]))
		if size > budget {
			continue
		}
		picked = append(picked, r.index)
		budget -= size
	}
	sort.Ints(picked)

	parts := make([]string, 0, len(picked))
	for i, idx := range picked {
		if i > 0 && idx != picked[i-1]+1 {
			parts = append(parts, "[...]")
		}
		parts = append(parts, chunks[idx])
	}
	return strings.Join(parts, "\n")
}
