package decision

import (
	"regexp"
	"strings"
)

// Vocabulary holds the keyword tables the engine routes on
type Vocabulary struct {
	DomainKeywords       []string
	DomainPatterns       []*regexp.Regexp
	PersonalDataKeywords []string
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		DomainKeywords: []string{
			"học", "trường", "sinh viên", "giảng viên", "dạy", "bdu", "đại học",
			"ngân hàng đề thi", "báo cáo", "kê khai", "tạp chí", "nghiên cứu",
			"tuition", "fee", "refund", "policy", "student", "lecturer", "course",
			"exam", "semester", "university", "campus", "faculty", "scholarship",
			"enrollment", "enrolment", "credit", "research", "journal", "survey", "login account",
		},
		DomainPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?:bdu|đại học|trường)`),
			regexp.MustCompile(`(?:giảng viên|thầy|cô)`),
			regexp.MustCompile(`(?:sinh viên|học sinh)`),
			regexp.MustCompile(`(?:báo cáo|kê khai)`),
			regexp.MustCompile(`(?:đề thi|tạp chí)`),
			regexp.MustCompile(`\b(?:school|teacher|professor|class(?:es)?)\b`),
		},
		PersonalDataKeywords: []string{
			"lịch của tôi", "lich cua toi", "thời khóa biểu của tôi", "tkb của tôi",
			"lịch giảng của tôi", "lich giang cua toi", "lịch dạy của tôi", "lich day cua toi",
			"tôi giảng", "toi giang", "tôi dạy", "toi day", "môn của tôi", "mon cua toi",
			"tôi là ai", "toi la ai", "thông tin của tôi", "thong tin cua toi",
			"hôm nay", "hom nay", "ngày mai", "ngay mai", "tuần này", "tuan nay",
			"my schedule", "my timetable", "my classes", "who am i", "my profile",
		},
	}
}

// IsInDomain reports whether the query is about the campus at all
func (v Vocabulary) IsInDomain(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	for _, kw := range v.DomainKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	for _, p := range v.DomainPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// NeedsPersonalData reports whether answering requires the caller's own records
func (v Vocabulary) NeedsPersonalData(query string) bool {
	q := strings.ToLower(query)
	for _, kw := range v.PersonalDataKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}
