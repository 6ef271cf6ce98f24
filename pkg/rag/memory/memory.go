package memory

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"

	"github.com/google/uuid"
)

const (
	newEntityConfidence   = 0.5
	relationshipBump      = 0.1
	relationshipCeiling   = 0.9
	keywordMinConfidence  = 0.6
	keywordRecency        = 300 * time.Second
	summaryWindow         = 3
	snippetQueryRunes     = 100
	snippetResponseRunes  = 100
	responsePreviewRunes  = 200
	defaultContextSummary = "Hỏi đáp chung về BDU"
)

var summaryTopics = []struct {
	keywords []string
	label    string
}{
	{[]string{"ngân hàng đề", "đề thi", "khảo thí"}, "Đang hỏi về ngân hàng đề thi"},
	{[]string{"kê khai", "nhiệm vụ", "giờ chuẩn"}, "Đang hỏi về kê khai nhiệm vụ năm học"},
	{[]string{"tạp chí", "nghiên cứu", "bài viết"}, "Đang hỏi về tạp chí khoa học"},
	{[]string{"thi đua", "khen thưởng", "danh hiệu"}, "Đang hỏi về thi đua khen thưởng"},
	{[]string{"báo cáo", "nộp", "hạn cuối"}, "Đang hỏi về báo cáo và thủ tục"},
	{[]string{"lịch", "thời khóa biểu", "giảng dạy"}, "Đang hỏi về lịch giảng dạy"},
	{[]string{"học phí", "tiền", "chi phí"}, "Đang quan tâm học phí"},
	{[]string{"tuyển sinh", "điểm", "xét tuyển"}, "Đang hỏi về tuyển sinh"},
	{[]string{"ngành", "chuyên ngành", "đào tạo"}, "Đang tìm hiểu về ngành học"},
	{[]string{"cơ sở", "phòng", "trang thiết bị"}, "Đang hỏi về cơ sở vật chất"},
}

// TurnInput is one finished exchange to be remembered
type TurnInput struct {
	Query        string
	Response     string
	DecisionKind string
	Intent       string
	FinalScore   float64
	Sources      []store.Candidate
}

// Memory records turns into a session and answers context questions about it.
// It never locks; callers hand it a memory they own for the duration of the call.
type Memory struct {
	extractor EntityExtractor
	maxTurns  int
	logger    logger.ILogger
}

func NewMemory(extractor EntityExtractor, maxTurns int, log logger.ILogger) *Memory {
	if extractor == nil {
		extractor = NewExtractor()
	}
	if maxTurns <= 0 {
		maxTurns = store.DefaultMaxTurns
	}
	return &Memory{extractor: extractor, maxTurns: maxTurns, logger: log}
}

// RecordTurn appends the exchange and refreshes entities, keywords and summary.
// Extraction failures leave the entity state alone but the turn is still stored.
func (m *Memory) RecordTurn(mem *store.SessionMemory, in TurnInput, now time.Time) store.Turn {
	entities := m.extract(in.Query + " " + in.Response)
	relationships := BuildRelationships(in.Query, in.Response, entities)

	m.updateEntities(mem, in, entities, relationships, now)

	turn := store.Turn{
		ID:                uuid.NewString(),
		Query:             in.Query,
		Response:          in.Response,
		DecisionKind:      in.DecisionKind,
		Intent:            in.Intent,
		FinalScore:        in.FinalScore,
		Sources:           store.CloneCandidates(in.Sources),
		ExtractedEntities: entities,
		Relationships:     relationships,
		Timestamp:         now,
	}
	mem.Turns = append(mem.Turns, turn)
	if over := len(mem.Turns) - m.maxTurns; over > 0 {
		mem.Turns = append([]store.Turn(nil), mem.Turns[over:]...)
	}

	mem.ContextSummary = contextSummary(mem.Turns)
	mem.ContextKeywords = contextKeywords(mem.EntityMemory, now)
	mem.UpdatedAt = now

	m.logger.Debug("MEMORY", "Turn recorded", map[string]interface{}{
		"session_id": mem.SessionID,
		"turns":      len(mem.Turns),
		"entities":   len(mem.EntityMemory),
		"keywords":   mem.ContextKeywords,
	})
	return turn
}

func (m *Memory) extract(text string) (entities map[string][]string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("MEMORY", "Entity extraction panicked", map[string]interface{}{"panic": r})
			entities = map[string][]string{}
		}
	}()

	found, err := m.extractor.Extract(text)
	if err != nil {
		m.logger.Warn("MEMORY", "Entity extraction failed", map[string]interface{}{"error": err.Error()})
		return map[string][]string{}
	}
	if found == nil {
		found = map[string][]string{}
	}
	return found
}

func (m *Memory) updateEntities(mem *store.SessionMemory, in TurnInput, entities map[string][]string, rels []store.Relationship, now time.Time) {
	if mem.EntityMemory == nil {
		mem.EntityMemory = map[string]*store.EntityRecord{}
	}
	snippet := "Q: " + truncateRunes(in.Query, snippetQueryRunes) + "... A: " + truncateRunes(in.Response, snippetResponseRunes) + "..."

	// type order keeps the result independent of map iteration
	kinds := make([]string, 0, len(entities))
	for kind := range entities {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		for _, value := range entities[kind] {
			key := entityKey(value)
			if key == "" {
				continue
			}
			rec, ok := mem.EntityMemory[key]
			if !ok {
				rec = &store.EntityRecord{
					OriginalForm:    value,
					Type:            kind,
					Contexts:        []store.EntityContext{},
					RelatedEntities: []string{},
					Confidence:      newEntityConfidence,
					FirstSeen:       now,
				}
				mem.EntityMemory[key] = rec
			}
			rec.Contexts = append(rec.Contexts, store.EntityContext{
				Snippet:         snippet,
				Query:           in.Query,
				ResponsePreview: truncateRunes(in.Response, responsePreviewRunes),
				Timestamp:       now,
			})
			if over := len(rec.Contexts) - store.MaxEntityContexts; over > 0 {
				rec.Contexts = append([]store.EntityContext(nil), rec.Contexts[over:]...)
			}
			rec.LastUsedAt = now
		}
	}

	for _, rel := range rels {
		k1, k2 := entityKey(rel.Entity1), entityKey(rel.Entity2)
		r1, ok1 := mem.EntityMemory[k1]
		r2, ok2 := mem.EntityMemory[k2]
		if !ok1 || !ok2 {
			continue
		}
		link(r1, k2)
		link(r2, k1)
	}

	mem.EntityRelationships = append(mem.EntityRelationships, rels...)
	if over := len(mem.EntityRelationships) - store.MaxEntityRelationships; over > 0 {
		mem.EntityRelationships = append([]store.Relationship(nil), mem.EntityRelationships[over:]...)
	}
}

func link(rec *store.EntityRecord, other string) {
	if !rec.HasRelated(other) {
		rec.RelatedEntities = append(rec.RelatedEntities, other)
	}
	rec.Confidence = min(rec.Confidence+relationshipBump, relationshipCeiling)
}

func contextSummary(turns []store.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	recent := turns[max(0, len(turns)-summaryWindow):]
	queries := make([]string, len(recent))
	for i, t := range recent {
		queries[i] = strings.ToLower(t.Query)
	}
	joined := strings.Join(queries, " ")

	for _, topic := range summaryTopics {
		for _, kw := range topic.keywords {
			if strings.Contains(joined, kw) {
				return topic.label
			}
		}
	}
	return defaultContextSummary
}

// contextKeywords picks recent, well-connected entities to steer the next retrieval
func contextKeywords(entities map[string]*store.EntityRecord, now time.Time) []string {
	type scoredKey struct {
		key string
		rec *store.EntityRecord
	}
	var picked []scoredKey
	for key, rec := range entities {
		if rec.Confidence > keywordMinConfidence && now.Sub(rec.LastUsedAt) < keywordRecency {
			picked = append(picked, scoredKey{key: key, rec: rec})
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		a, b := picked[i].rec, picked[j].rec
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return picked[i].key < picked[j].key
	})

	keywords := []string{}
	for _, p := range picked {
		if len(keywords) == store.MaxContextKeywords {
			break
		}
		if utf8.RuneCountInString(p.key) > 2 {
			keywords = append(keywords, displayForm(p.key, p.rec))
		}
	}
	return keywords
}

func displayForm(key string, rec *store.EntityRecord) string {
	if rec != nil && rec.OriginalForm != "" {
		return rec.OriginalForm
	}
	return key
}

func entityKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
