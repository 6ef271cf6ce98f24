package decision

import (
	"testing"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultVocabulary(), logger.NewNopLogger())
}

func scored(id string, semantic, final float64, issues ...string) store.Candidate {
	return store.Candidate{
		ID:             id,
		Answer:         "answer " + id,
		SemanticScore:  semantic,
		FinalScore:     final,
		MismatchIssues: issues,
	}
}

var oneTurn = []store.Turn{{Query: "học phí"}}

func TestTierOf(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{0.9, TierVeryHigh},
		{0.75, TierVeryHigh},
		{0.74, TierHigh},
		{0.55, TierHigh},
		{0.35, TierMedium},
		{0.2, TierLow},
		{0.19, TierVeryLow},
		{0, TierVeryLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierOf(tt.score), "score %v", tt.score)
	}
}

func TestDecide_DocumentOverrideWins(t *testing.T) {
	d := newTestEngine().Decide(Input{
		Query:        "what's the weather",
		DocumentText: "Quy chế đào tạo ...",
		AuthToken:    "tok",
	})

	assert.Equal(t, KindUseDocumentContext, d.Kind)
	assert.Equal(t, 0.95, d.Confidence)
	assert.True(t, d.ShouldRespond)
	ctx, ok := d.Context.(DocumentContext)
	require.True(t, ok)
	assert.Equal(t, "Quy chế đào tạo ...", ctx.DocumentText)
}

func TestDecide_RejectsOffDomainOnFirstTurnOnly(t *testing.T) {
	e := newTestEngine()

	first := e.Decide(Input{Query: "what's the weather in Paris", Candidates: []store.Candidate{scored("a", 0.9, 0.9)}})
	assert.Equal(t, KindRejectNonEducation, first.Kind)
	assert.False(t, first.ShouldRespond)

	later := e.Decide(Input{Query: "what's the weather in Paris", Candidates: []store.Candidate{scored("a", 0.9, 0.9)}, Turns: oneTurn})
	assert.Equal(t, KindUseDBDirect, later.Kind)
	assert.True(t, later.ShouldRespond)
}

func TestDecide_ScenarioA_FeeRefundIsInDomain(t *testing.T) {
	d := newTestEngine().Decide(Input{Query: "Fee refund policy", Candidates: []store.Candidate{scored("a", 0.6, 0.6)}})

	assert.NotEqual(t, KindRejectNonEducation, d.Kind)
	assert.True(t, d.ShouldRespond)
}

func TestDecide_PersonalDataRouting(t *testing.T) {
	e := newTestEngine()
	cands := []store.Candidate{scored("a", 0.7, 0.66)}

	withToken := e.Decide(Input{Query: "lịch dạy của tôi tuần này", Candidates: cands, AuthToken: "Bearer abc"})
	assert.Equal(t, KindUseExternalAPI, withToken.Kind)
	api, ok := withToken.Context.(ExternalAPIContext)
	require.True(t, ok)
	assert.Equal(t, "Bearer abc", api.AuthToken)
	assert.Equal(t, "answer a", api.FallbackAnswer)
	assert.Equal(t, 0.66, withToken.Confidence)

	anonymous := e.Decide(Input{Query: "lịch dạy của tôi tuần này", Candidates: cands, AuthToken: "  "})
	assert.Equal(t, KindRequireAuthentication, anonymous.Kind)
	_, ok = anonymous.Context.(AuthRequiredContext)
	assert.True(t, ok)
}

func TestDecide_ScenarioC_NoCandidates(t *testing.T) {
	e := newTestEngine()
	for _, q := range []string{"học phí học kỳ này", "Fee refund policy", "random chatter"} {
		d := e.Decide(Input{Query: q, Turns: oneTurn})
		assert.Equal(t, KindSayDontKnow, d.Kind, q)
		assert.Equal(t, 0.0, d.Confidence, q)
		assert.Nil(t, d.Chosen, q)
	}
}

func TestDecide_TierRouting(t *testing.T) {
	tests := []struct {
		name  string
		final float64
		want  Kind
	}{
		{name: "very high", final: 0.8, want: KindUseDBDirect},
		{name: "high", final: 0.6, want: KindUseDBDirect},
		{name: "medium", final: 0.4, want: KindEnhanceDBAnswer},
		{name: "low", final: 0.25, want: KindAskClarification},
		{name: "very low", final: 0.1, want: KindSayDontKnow},
	}
	e := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(Input{Query: "học phí", Candidates: []store.Candidate{scored("a", tt.final, tt.final)}})
			assert.Equal(t, tt.want, d.Kind)
			assert.Equal(t, tt.want, d.Context.Kind())
			assert.Equal(t, tt.final, d.Confidence)
		})
	}
}

func TestDecide_ScenarioB_MismatchWithinTolerance(t *testing.T) {
	// bank-vs-login fires at severity 0.7 on a very high semantic match:
	// penalty 0.7*0.05*0.6 = 0.021, normalized 0.07, below the very_high tolerance 0.8
	c := scored("login", 0.85, 0.6, "Concept: Bank account vs Login account")
	c.SmartPenalty = 0.021

	d := newTestEngine().Decide(Input{
		Query:      "what's the login account for the survey portal",
		Candidates: []store.Candidate{c},
	})

	assert.False(t, d.MismatchImpact)
	assert.Equal(t, KindUseDBDirect, d.Kind)
	direct, ok := d.Context.(DirectAnswerContext)
	require.True(t, ok)
	assert.Equal(t, []string{"Concept: Bank account vs Login account"}, direct.MismatchIssues)
}

func TestDecide_SevereMismatchAsksClarification(t *testing.T) {
	// medium semantic tier tolerates 0.4; 0.15/0.3 = 0.5 exceeds it
	c := scored("login", 0.4, 0.6, "Concept: Bank account vs Login account")
	c.SmartPenalty = 0.15

	d := newTestEngine().Decide(Input{Query: "số tài khoản ngân hàng đóng học phí", Candidates: []store.Candidate{c}})

	assert.True(t, d.MismatchImpact)
	assert.Equal(t, KindAskClarification, d.Kind)
	clar, ok := d.Context.(ClarificationContext)
	require.True(t, ok)
	assert.True(t, clar.Smart)
}

func TestDecide_VeryHighPreservedDespiteMismatch(t *testing.T) {
	c := scored("a", 0.3, 0.8, "Topic: Education fees vs Competition")
	c.SmartPenalty = 0.2

	d := newTestEngine().Decide(Input{Query: "học phí", Candidates: []store.Candidate{c}})

	assert.True(t, d.MismatchImpact)
	assert.Equal(t, KindUseDBDirect, d.Kind)
	assert.True(t, d.Context.(DirectAnswerContext).Preserved)
}

func TestDecide_LowTierClarificationIsGenericWithoutIssues(t *testing.T) {
	d := newTestEngine().Decide(Input{Query: "học phí", Candidates: []store.Candidate{scored("a", 0.3, 0.3)}})

	require.Equal(t, KindAskClarification, d.Kind)
	assert.False(t, d.Context.(ClarificationContext).Smart)
}

func TestSelectBest(t *testing.T) {
	cands := []store.Candidate{
		scored("first", 0.70, 0.8, "Concept: x", "Topic: y"),
		scored("second", 0.68, 0.7),
		scored("third", 0.50, 0.6),
	}
	assert.Equal(t, 1, SelectBest(cands))

	d := newTestEngine().Decide(Input{Query: "học phí", Candidates: cands})
	require.NotNil(t, d.Chosen)
	assert.Equal(t, "second", d.Chosen.ID)
	assert.Equal(t, 2, d.SelectedPosition)
	assert.Equal(t, KindUseDBDirect, d.Kind)
}

func TestSelectBest_OnlyTopFiveConsidered(t *testing.T) {
	cands := []store.Candidate{
		scored("a", 0.5, 0.5), scored("b", 0.5, 0.5), scored("c", 0.5, 0.5),
		scored("d", 0.5, 0.5), scored("e", 0.5, 0.5), scored("f", 0.99, 0.4),
	}
	assert.Equal(t, 0, SelectBest(cands))
	assert.Equal(t, 0, SelectBest(cands[:1]))
}

func TestVocabulary(t *testing.T) {
	v := DefaultVocabulary()

	assert.True(t, v.IsInDomain("Học phí học kỳ 2"))
	assert.True(t, v.IsInDomain("BDU ở đâu"))
	assert.True(t, v.IsInDomain("Fee refund policy"))
	assert.False(t, v.IsInDomain("what's the weather in Paris"))
	assert.False(t, v.IsInDomain("   "))

	assert.True(t, v.NeedsPersonalData("Lịch dạy của tôi hôm nay"))
	assert.True(t, v.NeedsPersonalData("show my schedule"))
	assert.False(t, v.NeedsPersonalData("lịch thi học kỳ"))
}
