package rerank

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"
)

// Config for the two-stage reranker
type Config struct {
	Stage1TopK     int
	Stage2TopN     int
	SemanticWeight float64
	CrossWeight    float64
}

func DefaultConfig() Config {
	return Config{
		Stage1TopK:     20,
		Stage2TopN:     8,
		SemanticWeight: 0.6,
		CrossWeight:    0.4,
	}
}

// Penalty rates by the raw semantic score tier, before any boost
const (
	penaltyRateVeryHigh = 0.05
	penaltyRateHigh     = 0.10
	penaltyRateMedium   = 0.15
	penaltyRateLow      = 0.25

	penaltyCapVeryHigh = 0.08
	penaltyCapHigh     = 0.12

	maxSemanticBoost = 0.2
	maxContextBoost  = 0.3

	exactNameBoost   = 0.4
	partialNameBoost = 0.2
)

var errScoreCount = errors.New("cross scorer returned wrong number of scores")

type Reranker struct {
	config Config
	rules  []MismatchRule
	scorer CrossScorer
	logger logger.ILogger
}

func NewReranker(config Config, rules []MismatchRule, scorer CrossScorer, log logger.ILogger) *Reranker {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Reranker{
		config: config,
		rules:  rules,
		scorer: scorer,
		logger: log,
	}
}

// Rerank orders candidates by final score, descending, with at most Stage2TopN results.
// Ties fall back to retrieval rank. The input slice is not modified.
func (r *Reranker) Rerank(candidates []store.Candidate, query string, contextKeywords []string) []store.Candidate {
	if len(candidates) == 0 {
		return []store.Candidate{}
	}

	stage1 := r.stage1(store.CloneCandidates(candidates), query, contextKeywords)

	final, err := r.stage2(stage1, query)
	if err != nil {
		r.logger.Error("RERANKER", "Stage 2 failed, keeping stage 1 order", map[string]interface{}{
			"error": err.Error(),
		})
		fallback := truncate(stage1, r.config.Stage2TopN)
		for i := range fallback {
			fallback[i].FinalScore = fallback[i].Stage1Score
		}
		return fallback
	}

	if names := personNames(contextKeywords); len(names) > 0 {
		final = r.applyNamePriority(final, names)
	}

	r.logger.Info("RERANKER", "Rerank complete", map[string]interface{}{
		"input":   len(candidates),
		"output":  len(final),
		"context": contextKeywords,
	})
	return final
}

func (r *Reranker) stage1(candidates []store.Candidate, query string, contextKeywords []string) []store.Candidate {
	for i := range candidates {
		c := &candidates[i]

		semanticBoost := SemanticBoost(*c, query)
		penalty, issues := r.SmartPenalty(*c, query)
		contextBoost := ContextBoost(*c, contextKeywords)

		c.Boosts.Semantic = semanticBoost
		c.Boosts.Context = contextBoost
		c.SmartPenalty = penalty
		c.MismatchIssues = issues
		c.Stage1Score = clamp01(c.SemanticScore + semanticBoost - penalty + contextBoost)
	}

	sortByScore(candidates, func(c store.Candidate) float64 { return c.Stage1Score })
	return truncate(candidates, r.config.Stage1TopK)
}

func (r *Reranker) stage2(candidates []store.Candidate, query string) (out []store.Candidate, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("cross scorer panicked: %v", p)
		}
	}()

	scores, err := r.scorer.Score(query, candidates)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, errScoreCount
	}

	out = store.CloneCandidates(candidates)
	for i := range out {
		out[i].Stage2Score = scores[i]
		out[i].FinalScore = clamp01(r.config.SemanticWeight*out[i].Stage1Score + r.config.CrossWeight*scores[i])
	}

	sortByScore(out, func(c store.Candidate) float64 { return c.FinalScore })
	return truncate(out, r.config.Stage2TopN), nil
}

// SemanticBoost rewards well-sized answers and questions that share vocabulary with the query
func SemanticBoost(c store.Candidate, query string) float64 {
	boost := 0.0
	n := utf8.RuneCountInString(c.Answer)
	if n >= 100 && n <= 500 {
		boost += 0.05
	} else if n > 1000 {
		boost -= 0.05
	}

	queryWords := wordSet(query)
	overlap := float64(intersect(queryWords, wordSet(c.Question))) / float64(max(len(queryWords), 1))
	if overlap > 0.3 {
		boost += 0.1
	}
	return min(maxSemanticBoost, boost)
}

// SmartPenalty deducts for detected topic conflicts, scaled down for candidates
// the embedding model is already confident about
func (r *Reranker) SmartPenalty(c store.Candidate, query string) (float64, []string) {
	analysis := DetectMismatches(r.rules, query, c.Answer)
	if len(analysis.Issues) == 0 {
		return 0.0, []string{}
	}

	rate := penaltyRateLow
	ceiling := 1.0
	switch {
	case c.SemanticScore >= 0.8:
		rate, ceiling = penaltyRateVeryHigh, penaltyCapVeryHigh
	case c.SemanticScore >= 0.65:
		rate, ceiling = penaltyRateHigh, penaltyCapHigh
	case c.SemanticScore >= 0.45:
		rate = penaltyRateMedium
	}

	penalty := analysis.Severity[CategoryConcept]*rate*categoryWeights[CategoryConcept] +
		analysis.Severity[CategoryTopic]*rate*categoryWeights[CategoryTopic] +
		analysis.Severity[CategoryContext]*rate*categoryWeights[CategoryContext]
	return min(penalty, ceiling), analysis.Issues
}

// ContextBoost rewards candidates mentioning remembered entities, names in the answer most
func ContextBoost(c store.Candidate, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0.0
	}
	answer := strings.ToLower(c.Answer)
	text := strings.ToLower(c.Question) + " " + answer

	boost := 0.0
	matched := 0
	for _, kw := range keywords {
		k := strings.ToLower(kw)
		if k == "" || !strings.Contains(text, k) {
			continue
		}
		matched++
		boost += 0.15
		if len(strings.Fields(kw)) >= 2 && strings.Contains(answer, k) {
			boost += 0.1
		}
	}
	if matched > 0 {
		ratio := float64(matched) / float64(len(keywords))
		boost *= 0.5 + 0.5*ratio
	}
	return min(maxContextBoost, boost)
}

type nameBucket int

const (
	bucketExact nameBucket = iota
	bucketPartial
	bucketNone
)

// applyNamePriority lifts candidates that literally mention a remembered person.
// Buckets (exact, partial, none) only break ties: the result is re-sorted by boosted
// final score so the list stays ordered by FinalScore.
func (r *Reranker) applyNamePriority(candidates []store.Candidate, names []string) []store.Candidate {
	type ranked struct {
		candidate store.Candidate
		bucket    nameBucket
	}

	items := make([]ranked, len(candidates))
	counts := map[nameBucket]int{}
	for i, c := range candidates {
		bucket := matchName(c, names)
		switch bucket {
		case bucketExact:
			c.Boosts.Name = exactNameBoost
		case bucketPartial:
			c.Boosts.Name = partialNameBoost
		}
		c.FinalScore = clamp01(c.FinalScore + c.Boosts.Name)
		items[i] = ranked{candidate: c, bucket: bucket}
		counts[bucket]++
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.candidate.FinalScore != b.candidate.FinalScore {
			return a.candidate.FinalScore > b.candidate.FinalScore
		}
		if a.bucket != b.bucket {
			return a.bucket < b.bucket
		}
		return a.candidate.RetrievalRank < b.candidate.RetrievalRank
	})

	out := make([]store.Candidate, len(items))
	for i, it := range items {
		out[i] = it.candidate
	}

	r.logger.Debug("RERANKER", "Name priority applied", map[string]interface{}{
		"names":   names,
		"exact":   counts[bucketExact],
		"partial": counts[bucketPartial],
		"none":    counts[bucketNone],
	})
	return out
}

func matchName(c store.Candidate, names []string) nameBucket {
	text := strings.ToLower(c.Question + " " + c.Answer)
	partial := false
	for _, name := range names {
		if strings.Contains(text, name) {
			return bucketExact
		}
		parts := strings.Fields(name)
		if len(parts) >= 2 {
			last := parts[len(parts)-1]
			if utf8.RuneCountInString(last) > 2 && strings.Contains(text, last) {
				partial = true
			}
		}
	}
	if partial {
		return bucketPartial
	}
	return bucketNone
}

// personNames keeps keywords that look like a person: several words, capitalized
func personNames(keywords []string) []string {
	var names []string
	for _, kw := range keywords {
		first, _ := utf8.DecodeRuneInString(kw)
		if len(strings.Fields(kw)) >= 2 && unicode.IsUpper(first) {
			names = append(names, strings.ToLower(kw))
		}
	}
	return names
}

func sortByScore(candidates []store.Candidate, score func(store.Candidate) float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].RetrievalRank < candidates[j].RetrievalRank
	})
}

func truncate(candidates []store.Candidate, n int) []store.Candidate {
	if n > 0 && len(candidates) > n {
		return candidates[:n]
	}
	return candidates
}

func clamp01(v float64) float64 {
	return max(0.0, min(1.0, v))
}
