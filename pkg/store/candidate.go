package store

// KnowledgeEntry is one curated question/answer pair of the knowledge base
type KnowledgeEntry struct {
	ID             string          `json:"id"`
	Question       string          `json:"question"`
	Answer         string          `json:"answer"`
	Category       string          `json:"category"`
	ReferenceKey   string          `json:"reference_key"` // STT column, may list several keys
	ReferenceLinks []ReferenceLink `json:"reference_links"`
}

// ReferenceLink points to a source document for an answer
type ReferenceLink struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Boosts records the additive adjustments applied during reranking
type Boosts struct {
	Semantic float64 `json:"semantic"`
	Context  float64 `json:"context"`
	Name     float64 `json:"name"`
}

// Candidate is a retrieved knowledge entry plus its scoring for one query
type Candidate struct {
	ID                  string          `json:"id"`
	Question            string          `json:"question"`
	Answer              string          `json:"answer"`
	Category            string          `json:"category"`
	ReferenceLinks      []ReferenceLink `json:"reference_links"`
	SemanticScore       float64         `json:"semantic_score"`
	Stage1Score         float64         `json:"stage1_score"`
	Stage2Score         float64         `json:"stage2_score"`
	FinalScore          float64         `json:"final_score"`
	SmartPenalty        float64         `json:"smart_penalty"`
	MismatchIssues      []string        `json:"mismatch_issues"`
	Boosts              Boosts          `json:"boosts"`
	ContextEnhanced     bool            `json:"context_enhanced"`
	ContextKeywordsUsed []string        `json:"context_keywords_used,omitempty"`
	RetrievalRank       int             `json:"retrieval_rank"`
}

// NewCandidate snapshots a knowledge entry for the current query
func NewCandidate(entry KnowledgeEntry, score float64, rank int) Candidate {
	return Candidate{
		ID:             entry.ID,
		Question:       entry.Question,
		Answer:         entry.Answer,
		Category:       entry.Category,
		ReferenceLinks: append([]ReferenceLink(nil), entry.ReferenceLinks...),
		SemanticScore:  score,
		MismatchIssues: []string{},
		RetrievalRank:  rank,
	}
}

// Clone copies the slices so the result shares nothing with c
func (c Candidate) Clone() Candidate {
	out := c
	out.ReferenceLinks = append([]ReferenceLink(nil), c.ReferenceLinks...)
	out.MismatchIssues = append([]string(nil), c.MismatchIssues...)
	out.ContextKeywordsUsed = append([]string(nil), c.ContextKeywordsUsed...)
	return out
}

// CloneCandidates copies a candidate list
func CloneCandidates(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
