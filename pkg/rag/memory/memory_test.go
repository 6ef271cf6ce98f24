package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type stubExtractor struct {
	entities map[string][]string
	err      error
	panics   bool
}

func (s stubExtractor) Extract(string) (map[string][]string, error) {
	if s.panics {
		panic("boom")
	}
	return s.entities, s.err
}

func newTestMemory(ex EntityExtractor) *Memory {
	return NewMemory(ex, 0, logger.NewNopLogger())
}

func TestExtractor_CampusExchange(t *testing.T) {
	got, err := NewExtractor().Extract("Ai là trưởng khoa CNTT? Thầy Nguyễn Văn An là trưởng khoa CNTT, email an.nv@bdu.edu.vn, điện thoại 0912345678.")
	require.NoError(t, err)

	assert.Equal(t, []string{"Nguyễn Văn An"}, got[store.EntityPerson])
	assert.Equal(t, []string{"trưởng khoa"}, got[store.EntityPosition])
	assert.Contains(t, got[store.EntityDepartment], "khoa cntt")
	assert.Equal(t, []string{"an.nv@bdu.edu.vn"}, got[store.EntityEmail])
	assert.Equal(t, []string{"0912345678"}, got[store.EntityPhone])
}

func TestExtractor_PrefersLongestPosition(t *testing.T) {
	got, err := NewExtractor().Extract("Phó hiệu trưởng và hiệu trưởng cùng dự họp")
	require.NoError(t, err)
	assert.Equal(t, []string{"phó hiệu trưởng", "hiệu trưởng"}, got[store.EntityPosition])
}

func TestExtractor_RejectsFalsePositiveNames(t *testing.T) {
	got, err := NewExtractor().Extract("Học Phí Chính năm nay tăng. Quy Định mới của Phòng Đào Tạo.")
	require.NoError(t, err)
	assert.Empty(t, got[store.EntityPerson])
	assert.Contains(t, got[store.EntityDepartment], "phòng đào tạo")
}

func TestExtractor_DatesAndNumbers(t *testing.T) {
	got, err := NewExtractor().Extract("Hạn nộp 15/06/2025, học kỳ 2 năm học 2024-2025, học phí 12.500.000 đồng")
	require.NoError(t, err)
	assert.Contains(t, got[store.EntityDate], "15/06/2025")
	assert.Contains(t, got[store.EntityDate], "năm học 2024-2025")
	assert.Contains(t, got[store.EntityDate], "học kỳ 2")
	assert.Contains(t, got[store.EntityNumber], "12.500.000 đồng")
}

func TestExtractor_InvalidUTF8(t *testing.T) {
	_, err := NewExtractor().Extract("bad \xff text")
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestBuildRelationships(t *testing.T) {
	entities := map[string][]string{
		store.EntityPerson:     {"Nguyễn Văn An"},
		store.EntityPosition:   {"trưởng khoa"},
		store.EntityDepartment: {"khoa cntt"},
	}

	rels := BuildRelationships("Ai là trưởng khoa CNTT?", "Thầy Nguyễn Văn An là trưởng khoa CNTT.", entities)
	require.Len(t, rels, 3)

	byType := map[string]store.Relationship{}
	for _, r := range rels {
		byType[r.Type] = r
	}
	assert.Equal(t, "has_position", byType["person_position"].Relation)
	assert.InDelta(t, 0.9, byType["person_position"].Confidence, 1e-9)
	assert.InDelta(t, 0.8, byType["person_department"].Confidence, 1e-9)
	assert.InDelta(t, 0.75, byType["position_department"].Confidence, 1e-9)

	// identity pairs need an identity question
	rels = BuildRelationships("Thông tin khoa CNTT", "Thầy Nguyễn Văn An là trưởng khoa CNTT.", entities)
	for _, r := range rels {
		assert.NotEqual(t, "person_position", r.Type)
	}
}

func TestRecordTurn_RoundTripIntoQueryContext(t *testing.T) {
	m := newTestMemory(nil)
	mem := store.NewSessionMemory("s1", t0)

	turn := m.RecordTurn(mem, TurnInput{
		Query:        "Ai là trưởng khoa CNTT?",
		Response:     "Dạ, thầy Nguyễn Văn An là trưởng khoa CNTT ạ.",
		DecisionKind: "use_db_direct",
		FinalScore:   0.82,
	}, t0)

	require.Len(t, mem.Turns, 1)
	assert.NotEmpty(t, turn.ID)
	assert.Equal(t, t0, turn.Timestamp)

	rec, ok := mem.EntityMemory["nguyễn văn an"]
	require.True(t, ok)
	assert.Equal(t, store.EntityPerson, rec.Type)
	assert.Equal(t, "Nguyễn Văn An", rec.OriginalForm)
	assert.Greater(t, rec.Confidence, newEntityConfidence)
	assert.Contains(t, rec.RelatedEntities, "trưởng khoa")
	assert.Contains(t, mem.ContextKeywords, "Nguyễn Văn An")

	qc := m.GetContextForQuery(mem, "Vậy Nguyễn Văn An là ai?")
	assert.True(t, qc.ShouldUseContext)
	assert.Contains(t, qc.Keywords, "Nguyễn Văn An")
	assert.Equal(t, []string{"Nguyễn Văn An"}, qc.ExtractedNames)
	assert.Equal(t, namedConfidence, qc.Confidence)
	assert.False(t, qc.FallbackUsed)
	assert.GreaterOrEqual(t, qc.Strength, 1)
	assert.LessOrEqual(t, len(qc.Keywords), maxQueryKeywords)
}

func TestRecordTurn_CapsTurnsAtThirty(t *testing.T) {
	m := newTestMemory(stubExtractor{})
	mem := store.NewSessionMemory("s1", t0)

	for i := 0; i < 31; i++ {
		m.RecordTurn(mem, TurnInput{Query: fmt.Sprintf("q%d", i), Response: "r"}, t0.Add(time.Duration(i)*time.Second))
	}

	require.Len(t, mem.Turns, store.DefaultMaxTurns)
	assert.Equal(t, "q1", mem.Turns[0].Query)
	assert.Equal(t, "q30", mem.Turns[len(mem.Turns)-1].Query)
}

func TestRecordTurn_ExtractionFailureStillRecords(t *testing.T) {
	for name, ex := range map[string]EntityExtractor{
		"error": stubExtractor{err: errors.New("model unavailable")},
		"panic": stubExtractor{panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			mem := store.NewSessionMemory("s1", t0)
			turn := newTestMemory(ex).RecordTurn(mem, TurnInput{Query: "học phí", Response: "12 triệu"}, t0)

			require.Len(t, mem.Turns, 1)
			assert.Empty(t, turn.ExtractedEntities)
			assert.Empty(t, mem.EntityMemory)
			assert.Equal(t, "Đang quan tâm học phí", mem.ContextSummary)
		})
	}
}

func TestRecordTurn_EntityContextsAndRelationshipsBounded(t *testing.T) {
	ex := stubExtractor{entities: map[string][]string{
		store.EntityPerson:     {"Nguyễn Văn An"},
		store.EntityPosition:   {"trưởng khoa"},
		store.EntityDepartment: {"khoa cntt"},
	}}
	m := newTestMemory(ex)
	mem := store.NewSessionMemory("s1", t0)

	for i := 0; i < 10; i++ {
		m.RecordTurn(mem, TurnInput{Query: "Ai là trưởng khoa CNTT?", Response: "Nguyễn Văn An là trưởng khoa CNTT"}, t0.Add(time.Duration(i)*time.Second))
	}

	rec := mem.EntityMemory["nguyễn văn an"]
	require.NotNil(t, rec)
	assert.Len(t, rec.Contexts, store.MaxEntityContexts)
	assert.Equal(t, relationshipCeiling, rec.Confidence)
	assert.Len(t, rec.RelatedEntities, 2)
	assert.Len(t, mem.EntityRelationships, store.MaxEntityRelationships)
	assert.Equal(t, t0, rec.FirstSeen)
	assert.Equal(t, t0.Add(9*time.Second), rec.LastUsedAt)
}

func TestContextKeywords_RecencyAndConfidence(t *testing.T) {
	entities := map[string]*store.EntityRecord{
		"fresh":   {Confidence: 0.8, LastUsedAt: t0},
		"stale":   {Confidence: 0.9, LastUsedAt: t0.Add(-10 * time.Minute)},
		"weak":    {Confidence: 0.5, LastUsedAt: t0},
		"ok":      {Confidence: 0.7, LastUsedAt: t0},
		"tighter": {Confidence: 0.8, LastUsedAt: t0.Add(-time.Second)},
	}

	assert.Equal(t, []string{"fresh", "tighter"}, contextKeywords(entities, t0))
}

func TestContextSummary(t *testing.T) {
	turns := []store.Turn{{Query: "Lịch dạy tuần này"}, {Query: "Hạn nộp báo cáo"}, {Query: "xin chào"}}
	assert.Equal(t, "Đang hỏi về báo cáo và thủ tục", contextSummary(turns))
	assert.Equal(t, defaultContextSummary, contextSummary([]store.Turn{{Query: "xin chào"}}))
	assert.Equal(t, "", contextSummary(nil))
}

func TestGetContextForQuery_FallbackOnUnknownName(t *testing.T) {
	m := newTestMemory(nil)
	mem := store.NewSessionMemory("s1", t0)

	qc := m.GetContextForQuery(mem, "Ai là Trần Thị Mai?")

	assert.True(t, qc.FallbackUsed)
	assert.True(t, qc.ShouldUseContext)
	assert.Equal(t, fallbackConfidence, qc.Confidence)
	assert.Equal(t, []string{"Trần Thị Mai"}, qc.Keywords)
}

func TestGetContextForQuery_UnrelatedQueryIgnoresMemory(t *testing.T) {
	m := newTestMemory(nil)
	mem := store.NewSessionMemory("s1", t0)
	m.RecordTurn(mem, TurnInput{Query: "Ai là trưởng khoa CNTT?", Response: "Thầy Nguyễn Văn An là trưởng khoa CNTT."}, t0)

	qc := m.GetContextForQuery(mem, "học phí ngành luật bao nhiêu")

	assert.False(t, qc.ShouldUseContext)
	assert.Empty(t, qc.Keywords)
	assert.Zero(t, qc.Strength)
}

func TestGetContextForQuery_HonorificAndLastName(t *testing.T) {
	m := newTestMemory(nil)
	mem := store.NewSessionMemory("s1", t0)
	m.RecordTurn(mem, TurnInput{Query: "Ai là trưởng khoa Luật?", Response: "Thầy Nguyễn Văn Cường là trưởng khoa Luật."}, t0)

	qc := m.GetContextForQuery(mem, "email của thầy cường")

	assert.True(t, qc.ShouldUseContext)
	assert.Contains(t, qc.Keywords, "Nguyễn Văn Cường")
}

func TestFindDirectEntity(t *testing.T) {
	m := newTestMemory(nil)
	mem := store.NewSessionMemory("s1", t0)
	m.RecordTurn(mem, TurnInput{Query: "Ai là trưởng khoa CNTT?", Response: "Thầy Nguyễn Văn An là trưởng khoa CNTT."}, t0)

	hit, ok := m.FindDirectEntity(mem, "Vậy Nguyễn Văn An là ai?")
	require.True(t, ok)
	assert.Equal(t, "Nguyễn Văn An", hit.Name)
	assert.Equal(t, "trưởng khoa", hit.Position)

	hit, ok = m.FindDirectEntity(mem, "Ông ấy làm việc ở đâu?")
	require.True(t, ok)
	assert.Equal(t, "Nguyễn Văn An", hit.Name)

	_, ok = m.FindDirectEntity(mem, "Vậy Trần Thị Mai là ai?")
	assert.False(t, ok)

	_, ok = m.FindDirectEntity(mem, "học phí là bao nhiêu")
	assert.False(t, ok)
}

func TestExtractQueryNames(t *testing.T) {
	assert.Equal(t, []string{"Nguyễn Văn An"}, ExtractQueryNames("Thế Nguyễn Văn An là ai vậy?"))
	assert.Equal(t, []string{"Cường"}, ExtractQueryNames("Em còn nhớ Cường không?"))
	assert.Empty(t, ExtractQueryNames("Học phí là gì"))
	assert.Empty(t, ExtractQueryNames("Thứ Hai là ngày gì"))
}
