package rerank

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/rag/memory"
	"campus-qa-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) Score(query string, candidates []store.Candidate) ([]float64, error) {
	args := m.Called(query, candidates)
	if fn, ok := args.Get(0).(func()); ok {
		fn()
	}
	scores, _ := args.Get(0).([]float64)
	return scores, args.Error(1)
}

func newTestReranker(scorer CrossScorer) *Reranker {
	return NewReranker(DefaultConfig(), DefaultRules(), scorer, logger.NewNopLogger())
}

func candidate(id string, rank int, score float64, question, answer string) store.Candidate {
	return store.NewCandidate(store.KnowledgeEntry{ID: id, Question: question, Answer: answer}, score, rank)
}

func manyCandidates(n int) []store.Candidate {
	out := make([]store.Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = candidate(
			fmt.Sprintf("kb-%d", i), i, 0.3+float64(i%7)*0.08,
			fmt.Sprintf("Câu hỏi số %d về học vụ", i),
			strings.Repeat("nội dung trả lời ", i+2),
		)
	}
	return out
}

func TestRerank_SortedAndTruncated(t *testing.T) {
	r := newTestReranker(nil)

	got := r.Rerank(manyCandidates(25), "học vụ là gì", nil)

	require.LessOrEqual(t, len(got), DefaultConfig().Stage2TopN)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].FinalScore, got[i].FinalScore)
	}
	for _, c := range got {
		assert.GreaterOrEqual(t, c.FinalScore, 0.0)
		assert.LessOrEqual(t, c.FinalScore, 1.0)
	}
}

func TestRerank_EmptyInput(t *testing.T) {
	got := newTestReranker(nil).Rerank(nil, "q", nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRerank_DoesNotMutateInput(t *testing.T) {
	in := manyCandidates(5)
	before := manyCandidates(5)

	newTestReranker(nil).Rerank(in, "học vụ", []string{"Nguyễn Văn An"})

	assert.Equal(t, before, in)
}

func TestRerank_TiesBrokenByRetrievalRank(t *testing.T) {
	in := []store.Candidate{
		candidate("late", 3, 0.6, "Lịch thi", "Xem lịch thi trên cổng."),
		candidate("early", 1, 0.6, "Lịch thi", "Xem lịch thi trên cổng."),
	}

	got := newTestReranker(nil).Rerank(in, "lịch thi", nil)

	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].ID)
	assert.Equal(t, "late", got[1].ID)
}

const multiRuleQuery = "giảng viên hỏi tài khoản đóng học phí và số tài khoản ngân hàng"
const multiRuleAnswer = "Dùng tài khoản đăng nhập để vào cuộc thi robot và khảo sát đánh giá, dành riêng sinh viên."

func TestSmartPenalty_VeryHighConfidenceIsProtected(t *testing.T) {
	r := newTestReranker(nil)
	c := candidate("kb-1", 0, 0.9, "Tài khoản", multiRuleAnswer)

	penalty, issues := r.SmartPenalty(c, multiRuleQuery)

	assert.GreaterOrEqual(t, len(issues), 3)
	assert.LessOrEqual(t, penalty, 0.08)
	assert.Greater(t, penalty, 0.0)
}

func TestSmartPenalty_RateFollowsSemanticTier(t *testing.T) {
	// concept 0.7, topic 0.9, context 0.3 -> weighted severity 0.72
	tests := []struct {
		name     string
		semantic float64
		want     float64
	}{
		{name: "very high", semantic: 0.85, want: 0.05 * 0.72},
		{name: "high", semantic: 0.7, want: 0.10 * 0.72},
		{name: "medium", semantic: 0.5, want: 0.15 * 0.72},
		{name: "low", semantic: 0.3, want: 0.25 * 0.72},
	}

	r := newTestReranker(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			penalty, _ := r.SmartPenalty(candidate("kb", 0, tt.semantic, "q", multiRuleAnswer), multiRuleQuery)
			assert.InDelta(t, tt.want, penalty, 1e-9)
		})
	}
}

func TestSmartPenalty_NoRuleNoPenalty(t *testing.T) {
	penalty, issues := newTestReranker(nil).SmartPenalty(candidate("kb", 0, 0.5, "q", "Lịch thi cuối kỳ."), "lịch thi")
	assert.Zero(t, penalty)
	assert.Empty(t, issues)
}

func TestDetectMismatches_IssueLabels(t *testing.T) {
	got := DetectMismatches(DefaultRules(), "Số tài khoản ngân hàng để đóng tiền?", "Tài khoản đăng nhập là mã sinh viên.")

	assert.Contains(t, got.Issues, "Concept: "+IssueBankVsLoginAccount)
	assert.Equal(t, 0.7, got.Severity[CategoryConcept])
}

func TestSemanticBoost(t *testing.T) {
	mid := strings.Repeat("a", 200)
	long := strings.Repeat("a", 1200)

	assert.InDelta(t, 0.15, SemanticBoost(candidate("a", 0, 0.5, "học phí là bao nhiêu", mid), "học phí bao nhiêu"), 1e-9)
	assert.InDelta(t, -0.05, SemanticBoost(candidate("b", 0, 0.5, "khác", long), "học phí"), 1e-9)
	assert.InDelta(t, 0.0, SemanticBoost(candidate("c", 0, 0.5, "khác", "ngắn"), "học phí"), 1e-9)
}

func TestContextBoost(t *testing.T) {
	c := candidate("kb", 0, 0.5, "Ai là trưởng khoa?", "Thầy Nguyễn Văn An là trưởng khoa.")

	// one of two keywords matched: (0.15 + 0.1) * 0.75
	assert.InDelta(t, 0.1875, ContextBoost(c, []string{"Nguyễn Văn An", "phòng đào tạo"}), 1e-9)
	assert.Zero(t, ContextBoost(c, nil))
	assert.LessOrEqual(t, ContextBoost(c, []string{"Nguyễn Văn An", "trưởng khoa", "thầy"}), 0.3)
}

func TestRerank_NamePriorityFromRememberedTurn(t *testing.T) {
	now := time.Now()
	m := memory.NewMemory(memory.NewExtractor(), 0, logger.NewNopLogger())
	mem := store.NewSessionMemory("s1", now)
	m.RecordTurn(mem, memory.TurnInput{
		Query:    "Ai là trưởng khoa CNTT?",
		Response: "Thầy Nguyễn Văn An là trưởng khoa CNTT.",
	}, now)

	query := "Vậy Nguyễn Văn An là ai?"
	qc := m.GetContextForQuery(mem, query)
	require.True(t, qc.ShouldUseContext)
	require.Equal(t, []string{"nguyễn văn an"}, personNames(qc.Keywords))

	in := []store.Candidate{
		candidate("fees", 0, 0.9, "Học phí", "Học phí 10 triệu."),
		candidate("dean", 1, 0.5, "Ai là trưởng khoa CNTT?", "Thầy Nguyễn Văn An là trưởng khoa CNTT."),
	}
	got := newTestReranker(nil).Rerank(in, query, qc.Keywords)

	require.Len(t, got, 2)
	assert.Equal(t, "dean", got[0].ID)
	assert.Equal(t, exactNameBoost, got[0].Boosts.Name)
	assert.Zero(t, got[1].Boosts.Name)
}

func TestRerank_ExactNamePriority(t *testing.T) {
	in := []store.Candidate{
		candidate("fees", 0, 0.9, "Học phí", "Học phí 10 triệu."),
		candidate("dean", 1, 0.5, "Ai là trưởng khoa CNTT?", "Thầy Nguyễn Văn An là trưởng khoa CNTT."),
		candidate("surname", 2, 0.5, "Giảng viên họ An", "Cô Lê Thị An dạy toán."),
	}

	got := newTestReranker(nil).Rerank(in, "Nguyễn Văn An là ai", []string{"Nguyễn Văn An"})

	require.Len(t, got, 3)
	assert.Equal(t, "dean", got[0].ID)
	assert.Equal(t, exactNameBoost, got[0].Boosts.Name)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].FinalScore, got[i].FinalScore)
	}
}

func TestRerank_PartialNameNeedsLongSurname(t *testing.T) {
	assert.Equal(t, bucketPartial, matchName(candidate("a", 0, 0.5, "q", "Thầy Cường dạy lý."), []string{"nguyễn văn cường"}))
	assert.Equal(t, bucketNone, matchName(candidate("b", 0, 0.5, "q", "Cô An dạy toán."), []string{"lê thị an"}))
	assert.Equal(t, bucketExact, matchName(candidate("c", 0, 0.5, "q", "Thầy Nguyễn Văn Cường."), []string{"nguyễn văn cường"}))
}

func TestPersonNames_OnlyCapitalizedMultiWord(t *testing.T) {
	assert.Equal(t, []string{"nguyễn văn an"}, personNames([]string{"Nguyễn Văn An", "trưởng khoa", "CNTT"}))
}

func TestRerank_Stage2ErrorFallsBackToStage1(t *testing.T) {
	scorer := &mockScorer{}
	scorer.On("Score", mock.Anything, mock.Anything).Return(nil, errors.New("scorer down"))

	got := newTestReranker(scorer).Rerank(manyCandidates(12), "học vụ", nil)

	require.Len(t, got, DefaultConfig().Stage2TopN)
	for i, c := range got {
		assert.Equal(t, c.Stage1Score, c.FinalScore)
		if i > 0 {
			assert.GreaterOrEqual(t, got[i-1].FinalScore, c.FinalScore)
		}
	}
	scorer.AssertExpectations(t)
}

func TestRerank_Stage2PanicFallsBackToStage1(t *testing.T) {
	scorer := &mockScorer{}
	scorer.On("Score", mock.Anything, mock.Anything).Return(func() { panic("boom") }, nil)

	got := newTestReranker(scorer).Rerank(manyCandidates(4), "học vụ", nil)

	require.Len(t, got, 4)
	for _, c := range got {
		assert.Equal(t, c.Stage1Score, c.FinalScore)
	}
}

func TestRerank_Stage2WrongScoreCount(t *testing.T) {
	scorer := &mockScorer{}
	scorer.On("Score", mock.Anything, mock.Anything).Return([]float64{0.5}, nil)

	got := newTestReranker(scorer).Rerank(manyCandidates(3), "học vụ", nil)

	require.Len(t, got, 3)
	assert.Equal(t, got[0].Stage1Score, got[0].FinalScore)
}

func TestLexicalScorer_LengthShape(t *testing.T) {
	assert.InDelta(t, 0.5, lengthShape(strings.Repeat("a", 50)), 1e-9)
	assert.InDelta(t, 1.0, lengthShape(strings.Repeat("a", 400)), 1e-9)
	assert.InDelta(t, 0.5, lengthShape(strings.Repeat("a", 4000)), 1e-9)
	assert.InDelta(t, 0.25, lengthShape(strings.Repeat("a", 25)), 1e-9)
}
