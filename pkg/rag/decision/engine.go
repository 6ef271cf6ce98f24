package decision

import (
	"strings"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"
)

// Tier buckets a score into a confidence band
type Tier string

const (
	TierVeryHigh Tier = "very_high"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
	TierVeryLow  Tier = "very_low"
)

const (
	documentConfidence = 0.95

	selectionWindow     = 5
	mismatchSuitability = 0.1
	positionStep        = 0.01

	// smart penalties top out around 0.3, severity is normalized against that
	penaltyScale     = 0.3
	defaultTolerance = 0.5
)

var mismatchTolerance = map[Tier]float64{
	TierVeryHigh: 0.8,
	TierHigh:     0.6,
	TierMedium:   0.4,
	TierLow:      0.2,
}

// TierOf maps a score onto the fixed confidence thresholds
func TierOf(score float64) Tier {
	switch {
	case score >= 0.75:
		return TierVeryHigh
	case score >= 0.55:
		return TierHigh
	case score >= 0.35:
		return TierMedium
	case score >= 0.20:
		return TierLow
	default:
		return TierVeryLow
	}
}

// Input is everything the engine looks at for one query
type Input struct {
	Query        string
	Candidates   []store.Candidate // reranked, best first
	Turns        []store.Turn
	AuthToken    string
	DocumentText string
}

// Decision is the routed outcome for one query
type Decision struct {
	Kind             Kind
	Chosen           *store.Candidate
	Confidence       float64
	Tier             Tier
	Context          ResponseContext
	ShouldRespond    bool
	MismatchImpact   bool
	SelectedPosition int // 1-based position of Chosen in the reranked list
}

type Engine struct {
	vocab  Vocabulary
	logger logger.ILogger
}

func NewEngine(vocab Vocabulary, log logger.ILogger) *Engine {
	return &Engine{vocab: vocab, logger: log}
}

func (e *Engine) Vocabulary() Vocabulary {
	return e.vocab
}

// Decide routes the query. It has no side effects and always returns exactly one kind.
func (e *Engine) Decide(in Input) Decision {
	if strings.TrimSpace(in.DocumentText) != "" {
		return Decision{
			Kind:          KindUseDocumentContext,
			Confidence:    documentConfidence,
			Context:       DocumentContext{Query: in.Query, DocumentText: in.DocumentText},
			ShouldRespond: true,
		}
	}

	if len(in.Turns) == 0 && !e.vocab.IsInDomain(in.Query) {
		e.logger.Info("DECISION", "Rejecting out-of-scope query", map[string]interface{}{"query": in.Query})
		return Decision{
			Kind:          KindRejectNonEducation,
			Context:       RejectionContext{Query: in.Query},
			ShouldRespond: false,
		}
	}

	if e.vocab.NeedsPersonalData(in.Query) {
		return e.personalData(in)
	}

	if len(in.Candidates) == 0 {
		return Decision{
			Kind:          KindSayDontKnow,
			Confidence:    0.0,
			Tier:          TierVeryLow,
			Context:       DontKnowContext{Query: in.Query, Tier: TierVeryLow, Reason: "no candidates"},
			ShouldRespond: true,
		}
	}

	pos := SelectBest(in.Candidates)
	best := in.Candidates[pos]
	tier := TierOf(best.FinalScore)
	impact := MismatchImpact(best)
	issues := append([]string{}, best.MismatchIssues...)

	d := Decision{
		Chosen:           &best,
		Confidence:       clamp01(best.FinalScore),
		Tier:             tier,
		ShouldRespond:    true,
		MismatchImpact:   impact,
		SelectedPosition: pos + 1,
	}

	clarify := ClarificationContext{
		Query:          in.Query,
		Answer:         best.Answer,
		Tier:           tier,
		MismatchIssues: issues,
		Smart:          len(issues) > 0,
	}

	switch tier {
	case TierVeryHigh:
		d.Kind = KindUseDBDirect
		d.Context = DirectAnswerContext{Query: in.Query, Answer: best.Answer, Tier: tier, MismatchIssues: issues, Preserved: true}
	case TierHigh:
		if impact {
			d.Kind, d.Context = KindAskClarification, clarify
		} else {
			d.Kind = KindUseDBDirect
			d.Context = DirectAnswerContext{Query: in.Query, Answer: best.Answer, Tier: tier, MismatchIssues: issues}
		}
	case TierMedium:
		if impact {
			d.Kind, d.Context = KindAskClarification, clarify
		} else {
			d.Kind = KindEnhanceDBAnswer
			d.Context = EnhanceContext{Query: in.Query, Answer: best.Answer, Tier: tier}
		}
	case TierLow:
		d.Kind, d.Context = KindAskClarification, clarify
	default:
		d.Kind = KindSayDontKnow
		d.Context = DontKnowContext{Query: in.Query, Tier: tier, Reason: "very low confidence"}
	}

	e.logger.Info("DECISION", "Decision made", map[string]interface{}{
		"kind":      string(d.Kind),
		"tier":      string(tier),
		"score":     best.FinalScore,
		"semantic":  best.SemanticScore,
		"position":  d.SelectedPosition,
		"mismatch":  len(issues),
		"impactful": impact,
	})
	return d
}

func (e *Engine) personalData(in Input) Decision {
	confidence := 0.0
	fallback := ""
	if len(in.Candidates) > 0 {
		confidence = clamp01(in.Candidates[0].FinalScore)
		fallback = in.Candidates[0].Answer
	}

	if strings.TrimSpace(in.AuthToken) != "" {
		return Decision{
			Kind:          KindUseExternalAPI,
			Confidence:    confidence,
			Context:       ExternalAPIContext{Query: in.Query, AuthToken: in.AuthToken, FallbackAnswer: fallback},
			ShouldRespond: true,
		}
	}
	return Decision{
		Kind:          KindRequireAuthentication,
		Confidence:    confidence,
		Context:       AuthRequiredContext{Query: in.Query},
		ShouldRespond: true,
	}
}

// SelectBest returns the index of the most suitable candidate among the top five.
// Suitability trades semantic score against mismatch count with a small bonus for rank.
func SelectBest(candidates []store.Candidate) int {
	if len(candidates) <= 1 {
		return 0
	}

	best, bestScore := 0, -1.0
	for i := 0; i < len(candidates) && i < selectionWindow; i++ {
		c := candidates[i]
		suitability := c.SemanticScore -
			float64(len(c.MismatchIssues))*mismatchSuitability +
			float64(selectionWindow-i)*positionStep
		if suitability > bestScore {
			best, bestScore = i, suitability
		}
	}
	return best
}

// MismatchImpact reports whether a candidate's mismatches are too severe for its raw confidence
func MismatchImpact(c store.Candidate) bool {
	if len(c.MismatchIssues) == 0 {
		return false
	}
	tolerance, ok := mismatchTolerance[TierOf(c.SemanticScore)]
	if !ok {
		tolerance = defaultTolerance
	}
	return c.SmartPenalty/penaltyScale > tolerance
}

func clamp01(v float64) float64 {
	return max(0.0, min(1.0, v))
}
