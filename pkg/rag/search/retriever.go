package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/embedding"
	"campus-qa-be/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Method tags which result set a search returned
type Method string

const (
	MethodNormal         Method = "normal"
	MethodContext        Method = "context"
	MethodEntityFallback Method = "smart_entity_fallback"
)

const (
	MinSimilarity         = 0.1
	MaxAugmentKeywords    = 3
	DefaultTopK           = 20
	contextDecisiveMargin = 0.2
	normalDecisiveMargin  = -0.05
	fallbackVariantFloor  = 0.5
	fallbackMaxCandidates = 3
	defaultLookupTimeout  = 3 * time.Second
)

// thirdPersonReferences are phrases that point back at someone already mentioned
var thirdPersonReferences = []string{
	"ông ấy", "bà ấy", "người đó", "thầy ấy", "cô ấy", "anh ấy", "chị ấy",
	"that person", "this person", "that guy",
}

var thirdPersonWords = map[string]bool{
	"he": true, "him": true, "his": true, "she": true, "her": true, "hers": true,
}

// Config for the retriever
type Config struct {
	TopK    int
	Timeout time.Duration
}

// DefaultConfig returns default retrieval configuration
func DefaultConfig() Config {
	return Config{
		TopK:    DefaultTopK,
		Timeout: defaultLookupTimeout,
	}
}

// Retriever turns queries into ranked candidate lists.
// Failures never reach the caller: they come back as an empty list.
type Retriever struct {
	embedder embedding.EmbeddingProvider
	index    Index
	links    LinkTable
	config   Config
	logger   logger.ILogger
}

func NewRetriever(
	embedder embedding.EmbeddingProvider,
	index Index,
	links LinkTable,
	config Config,
	log logger.ILogger,
) *Retriever {
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultLookupTimeout
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		links:    links,
		config:   config,
		logger:   log,
	}
}

// TopK is the configured default width
func (r *Retriever) TopK() int {
	return r.config.TopK
}

// Search runs a plain nearest-neighbor search for query
func (r *Retriever) Search(ctx context.Context, query string, topK int) []store.Candidate {
	return r.search(ctx, query, topK, nil)
}

// SearchWithContext appends up to three context keywords to the query before searching
func (r *Retriever) SearchWithContext(ctx context.Context, query string, keywords []string, topK int) []store.Candidate {
	return r.search(ctx, AugmentQuery(query, keywords), topK, keywords)
}

// AugmentQuery builds the context-enhanced query text
func AugmentQuery(query string, keywords []string) string {
	if len(keywords) == 0 {
		return query
	}
	if len(keywords) > MaxAugmentKeywords {
		keywords = keywords[:MaxAugmentKeywords]
	}
	return query + " " + strings.Join(keywords, " ")
}

// DualSearch runs the normal and context-enhanced searches side by side and keeps one of them
func (r *Retriever) DualSearch(ctx context.Context, query string, keywords []string, topK int) ([]store.Candidate, Method) {
	var normal, enhanced []store.Candidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		normal = r.Search(gctx, query, topK)
		return nil
	})
	if len(keywords) > 0 {
		g.Go(func() error {
			enhanced = r.SearchWithContext(gctx, query, keywords, topK)
			return nil
		})
	}
	_ = g.Wait()

	chosen, method := ChooseDualResult(query, normal, enhanced)
	r.logger.Debug("RETRIEVER", "Dual search resolved", map[string]interface{}{
		"method":         string(method),
		"normal_count":   len(normal),
		"context_count":  len(enhanced),
		"context_tokens": keywords,
	})
	return chosen, method
}

// ChooseDualResult applies the banded preference between the two result sets.
// Context has to win by a wide margin; inside the ambiguous band a pronoun tips it to
// context and a proper name tips it to normal.
func ChooseDualResult(query string, normal, enhanced []store.Candidate) ([]store.Candidate, Method) {
	if len(enhanced) == 0 {
		return normal, MethodNormal
	}
	if len(normal) == 0 {
		return enhanced, MethodContext
	}

	delta := enhanced[0].SemanticScore - normal[0].SemanticScore
	switch {
	case delta > contextDecisiveMargin:
		return enhanced, MethodContext
	case delta < normalDecisiveMargin:
		return normal, MethodNormal
	}

	if HasThirdPersonReference(query) {
		return enhanced, MethodContext
	}
	if HasProperName(query) {
		return normal, MethodNormal
	}
	return normal, MethodNormal
}

// HasThirdPersonReference reports a demonstrative reference to someone mentioned before
func HasThirdPersonReference(query string) bool {
	lower := strings.ToLower(query)
	for _, phrase := range thirdPersonReferences {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	for _, word := range strings.FieldsFunc(lower, isWordBreak) {
		if thirdPersonWords[word] {
			return true
		}
	}
	return false
}

// HasProperName reports any capitalized word longer than one rune
func HasProperName(query string) bool {
	for _, word := range strings.Fields(query) {
		runes := []rune(word)
		if len(runes) > 1 && unicode.IsUpper(runes[0]) {
			return true
		}
	}
	return false
}

func isWordBreak(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

// SearchNameVariants looks a person up by several phrasings of the same question.
// Per name the first phrasing whose top hit clears 0.5 wins; the best three hits are returned.
func (r *Retriever) SearchNameVariants(ctx context.Context, names []string, topK int) []store.Candidate {
	best := []store.Candidate{}
	for _, name := range names {
		variants := []string{
			name + " là ai",
			"ai là " + name,
			"thông tin " + name,
			"chức vụ " + name,
			name,
		}
		for _, variant := range variants {
			hits := r.Search(ctx, variant, topK)
			if len(hits) > 0 && hits[0].SemanticScore > fallbackVariantFloor {
				best = append(best, hits[0])
				break
			}
		}
	}

	sort.SliceStable(best, func(i, j int) bool { return best[i].SemanticScore > best[j].SemanticScore })
	if len(best) > fallbackMaxCandidates {
		best = best[:fallbackMaxCandidates]
	}
	for i := range best {
		best[i].RetrievalRank = i
	}
	return best
}

// IndexSize reports the number of indexed entries, or -1 when unknown
func (r *Retriever) IndexSize(ctx context.Context) int64 {
	if r.index == nil {
		return -1
	}
	n, err := r.index.Size(ctx)
	if err != nil {
		return -1
	}
	return n
}

func (r *Retriever) search(ctx context.Context, text string, topK int, keywords []string) []store.Candidate {
	if topK <= 0 {
		topK = r.config.TopK
	}

	neighbors, err := r.lookup(ctx, text, topK)
	if err != nil {
		r.logger.Warn("RETRIEVER", "Search degraded to empty result", map[string]interface{}{
			"error": err.Error(),
			"query": text,
		})
		return []store.Candidate{}
	}

	candidates := make([]store.Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Score <= MinSimilarity {
			continue
		}
		c := store.NewCandidate(n.Entry, n.Score, len(candidates))
		if len(c.ReferenceLinks) == 0 && r.links != nil {
			c.ReferenceLinks = r.links.Resolve(n.Entry.ReferenceKey)
		}
		if len(keywords) > 0 {
			c.ContextEnhanced = true
			c.ContextKeywordsUsed = append([]string(nil), keywords...)
		}
		candidates = append(candidates, c)
	}

	r.logger.Debug("RETRIEVER", "Semantic search finished", map[string]interface{}{
		"raw":        len(neighbors),
		"candidates": len(candidates),
		"context":    len(keywords) > 0,
	})
	return candidates
}

type lookupResult struct {
	neighbors []Neighbor
	err       error
}

// lookup bounds embed+index by the configured timeout even if a collaborator ignores ctx
func (r *Retriever) lookup(ctx context.Context, text string, topK int) ([]Neighbor, error) {
	if r.embedder == nil || r.index == nil {
		return nil, ErrIndexUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- lookupResult{err: fmt.Errorf("index lookup panicked: %v", p)}
			}
		}()

		res, err := r.embedder.Generate(ctx, text, embedding.TaskRetrievalQuery)
		if err != nil {
			done <- lookupResult{err: fmt.Errorf("embed query: %w", err)}
			return
		}
		neighbors, err := r.index.NearestNeighbors(ctx, res.Embedding.Values, topK)
		if err != nil {
			done <- lookupResult{err: fmt.Errorf("nearest neighbors: %w", err)}
			return
		}
		done <- lookupResult{neighbors: neighbors}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.neighbors, out.err
	}
}
