package prompt

import (
	"strings"
	"testing"
	"time"

	"campus-qa-be/pkg/rag/external"
	"campus-qa-be/pkg/store"

	"github.com/stretchr/testify/assert"
)

func TestAddress(t *testing.T) {
	tests := []struct {
		name    string
		profile *store.UserProfile
		want    string
	}{
		{"no profile", nil, "giảng viên"},
		{"male with name", &store.UserProfile{FullName: "Dương Anh Tuấn", Gender: "male"}, "thầy Tuấn"},
		{"female numeric", &store.UserProfile{FullName: "Trần Thị Mai", Gender: "1"}, "cô Mai"},
		{"gender only", &store.UserProfile{Gender: "nam"}, "thầy"},
		{"name only", &store.UserProfile{FullName: "Lê Văn Hải"}, "Lê Văn Hải"},
		{"explicit title wins", &store.UserProfile{FullName: "Lê Văn Hải", Gender: "male", Title: "thầy Hiệu trưởng"}, "thầy Hiệu trưởng"},
		{"empty profile", &store.UserProfile{}, "giảng viên"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Address(tt.profile))
		})
	}
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Thầy Tuấn", Title("thầy Tuấn"))
	assert.Equal(t, "Giảng Viên", Title("giảng viên"))
	assert.Equal(t, "", Title(""))
}

func TestKnowledgeAnswer_CarriesAnswerQueryAndInstructions(t *testing.T) {
	b := NewBuilder()
	in := Input{
		Query:         "Học phí ngành CNTT là bao nhiêu?",
		Address:       "cô Mai",
		Instructions:  "Luôn trả lời ngắn gọn.",
		RecentSummary: RecentSummary([]store.Turn{{Query: "Xin chào", Response: "Dạ chào cô"}}),
	}

	p := b.KnowledgeAnswer(in, "Học phí là 20 triệu mỗi học kỳ.", false)
	assert.Contains(t, p, `Bắt đầu câu trả lời bằng "Dạ cô Mai,"`)
	assert.Contains(t, p, "Học phí là 20 triệu mỗi học kỳ.")
	assert.Contains(t, p, in.Query)
	assert.Contains(t, p, "Luôn trả lời ngắn gọn.")
	assert.Contains(t, p, "Giảng viên hỏi: Xin chào")
	assert.NotContains(t, p, "chi tiết và toàn diện hơn")

	detailed := b.KnowledgeAnswer(in, "Học phí là 20 triệu mỗi học kỳ.", true)
	assert.Contains(t, detailed, "chi tiết và toàn diện hơn")
}

func TestKnowledgeAnswer_TruncatesLongAnswers(t *testing.T) {
	long := strings.Repeat("ạ", maxAnswerRunes+50)
	p := NewBuilder().KnowledgeAnswer(Input{Query: "q"}, long, false)
	assert.Contains(t, p, strings.Repeat("ạ", maxAnswerRunes)+"...")
	assert.NotContains(t, p, strings.Repeat("ạ", maxAnswerRunes+1))
}

func TestRecentSummary_KeepsLastThreeTurns(t *testing.T) {
	turns := []store.Turn{{Query: "q1"}, {Query: "q2"}, {Query: "q3"}, {Query: "q4"}}
	s := RecentSummary(turns)
	assert.NotContains(t, s, "q1")
	assert.Contains(t, s, "q2")
	assert.Contains(t, s, "q4")
	assert.Empty(t, RecentSummary(nil))
}

func TestPersonalData_FormatsSchedule(t *testing.T) {
	data := &external.PersonalData{
		Lecturer: external.Lecturer{ID: "GV001", FullName: "Nguyễn Văn An", Gender: "male", Title: "Giảng viên"},
		Summary:  external.ScheduleSummary{TotalClasses: 1, UniqueSubjects: 1, TotalPeriods: 3},
		DailySchedule: map[string][]external.ScheduleEntry{
			"14-10-2026": {{SubjectName: "Lập trình", SubjectCode: "CS101", ClassCode: "CNTT1", Room: "A1", StartPeriod: 1, Periods: 3}},
		},
		ProcessedAt: time.Now(),
	}

	p := NewBuilder().PersonalData(Input{Query: "lịch dạy hôm nay"}, data)
	assert.Contains(t, p, `"Dạ thầy An,"`)
	assert.Contains(t, p, "Thứ Tư, 14-10-2026")
	assert.Contains(t, p, "• Lập trình (CS101) - Lớp CNTT1 - Phòng A1 - Tiết 1 (3 tiết)")
	assert.Contains(t, p, "Thầy An có cần em hỗ trợ thêm gì không ạ?")

	empty := &external.PersonalData{DailySchedule: map[string][]external.ScheduleEntry{}}
	assert.Equal(t, "Hiện tại không có lịch giảng dạy trong khoảng thời gian này.", FormatSchedule(empty))
}

func TestDocument_TruncatesAndStaysGrounded(t *testing.T) {
	doc := strings.Repeat("x", maxDocumentRunes+10)
	p := NewBuilder().Document(Input{Query: "Có mấy điều?"}, doc)
	assert.Contains(t, p, "[...tài liệu còn tiếp...]")
	assert.Contains(t, p, "Chỉ trả lời dựa vào nội dung tài liệu")
	assert.Contains(t, p, `"Dạ giảng viên,"`)
}

func TestDocumentExcerpt_KeepsOpeningAndRelevantChunks(t *testing.T) {
	filler := strings.Repeat("nội dung chung không liên quan. ", 40)
	doc := "QUY CHẾ ĐÀO TẠO\n" + filler + "Điều 9. Học phí được đóng trước ngày 15 hằng tháng. " + filler + filler

	got := DocumentExcerpt(doc, "Hạn đóng học phí là ngày nào?")

	assert.True(t, strings.HasPrefix(got, "QUY CHẾ ĐÀO TẠO"))
	assert.Contains(t, got, "Học phí được đóng trước ngày 15")
	assert.LessOrEqual(t, len([]rune(got)), maxDocumentRunes+40)
}
