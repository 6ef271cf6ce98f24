package rerank

import (
	"strings"
	"unicode/utf8"

	"campus-qa-be/pkg/store"
)

// CrossScorer produces the stage-2 coherence score for each candidate, in input order
type CrossScorer interface {
	Score(query string, candidates []store.Candidate) ([]float64, error)
}

// LexicalScorer approximates a cross-encoder with word-overlap heuristics
type LexicalScorer struct{}

func (LexicalScorer) Score(query string, candidates []store.Candidate) ([]float64, error) {
	queryWords := wordSet(query)
	scores := make([]float64, len(candidates))

	for i, c := range candidates {
		questionWords := wordSet(c.Question)
		answerWords := wordSet(c.Answer)

		questionOverlap := float64(intersect(queryWords, questionWords)) / float64(max(len(queryWords), 1))
		answerCoverage := float64(intersect(queryWords, answerWords)) / float64(max(len(queryWords), 1))
		coherence := float64(intersect(questionWords, answerWords)) / float64(max(union(questionWords, answerWords), 1))

		score := 0.4*questionOverlap + 0.3*answerCoverage + 0.2*coherence + 0.1*lengthShape(c.Answer)
		scores[i] = min(1.0, score)
	}
	return scores, nil
}

// lengthShape peaks for answers of 100-800 characters
func lengthShape(answer string) float64 {
	n := utf8.RuneCountInString(answer)
	switch {
	case n >= 100 && n <= 800:
		return 1.0
	case n < 100:
		return float64(n) / 100.0
	default:
		return max(0.5, 1000.0/float64(n))
	}
}

func wordSet(text string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[w] = struct{}{}
	}
	return set
}

func intersect(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

func union(a, b map[string]struct{}) int {
	return len(a) + len(b) - intersect(a, b)
}
