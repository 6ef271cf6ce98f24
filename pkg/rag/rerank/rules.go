package rerank

import (
	"fmt"
	"strings"
)

// Category groups mismatch rules by how much they weigh in the penalty
type Category string

const (
	CategoryConcept Category = "concept"
	CategoryTopic   Category = "topic"
	CategoryContext Category = "context"
)

// categoryWeights is the share of the penalty rate each category can consume
var categoryWeights = map[Category]float64{
	CategoryConcept: 0.6,
	CategoryTopic:   0.3,
	CategoryContext: 0.1,
}

var categoryLabels = map[Category]string{
	CategoryConcept: "Concept",
	CategoryTopic:   "Topic",
	CategoryContext: "Context",
}

// Issue descriptions shared with the clarification templates
const (
	IssueWorkReportVsCredits   = "Work reporting vs Student credit hours"
	IssueBankVsLoginAccount    = "Bank account vs Login account"
	IssueDutyVsRegistration    = "Faculty duty vs Student registration"
	IssueTeachingVsLearning    = "Teaching vs Learning schedule"
	IssueFeesVsCompetition     = "Education fees vs Competition"
	IssueReportingVsActivities = "Reporting vs Student activities"
	IssueBankingVsSurvey       = "Banking vs Survey system"
	IssueFacultyVsStudentRole  = "Faculty vs Student role"
)

// MismatchRule fires when the query mentions one concept and the answer is about a conflicting one
type MismatchRule struct {
	Category       Category
	QueryPatterns  []string
	AnswerPatterns []string
	Severity       float64
	Description    string
}

// Matches reports whether the rule fires. Inputs must already be lowercased.
func (r MismatchRule) Matches(query, answer string) bool {
	return containsAny(query, r.QueryPatterns) && containsAny(answer, r.AnswerPatterns)
}

// Issue is the label attached to a candidate when the rule fires
func (r MismatchRule) Issue() string {
	return fmt.Sprintf("%s: %s", categoryLabels[r.Category], r.Description)
}

// MismatchAnalysis is the outcome of running every rule against one candidate
type MismatchAnalysis struct {
	Severity map[Category]float64 // max severity per category
	Issues   []string
}

// DefaultRules is the conflict table for the campus knowledge base
func DefaultRules() []MismatchRule {
	return []MismatchRule{
		{
			Category:       CategoryConcept,
			QueryPatterns:  []string{"báo cáo khối lượng công việc", "báo cáo nhiệm vụ giảng viên", "workload report"},
			AnswerPatterns: []string{"khối lượng học tập sinh viên", "tín chỉ sinh viên", "student credit hours"},
			Severity:       0.8,
			Description:    IssueWorkReportVsCredits,
		},
		{
			Category:       CategoryConcept,
			QueryPatterns:  []string{"tài khoản đóng học phí", "số tài khoản ngân hàng", "fee payment account", "bank account number"},
			AnswerPatterns: []string{"tài khoản đăng nhập", "tài khoản khảo sát", "login account", "survey account"},
			Severity:       0.7,
			Description:    IssueBankVsLoginAccount,
		},
		{
			Category:       CategoryConcept,
			QueryPatterns:  []string{"kê khai nhiệm vụ giảng viên", "faculty duty declaration"},
			AnswerPatterns: []string{"đăng ký môn học sinh viên", "student course registration"},
			Severity:       0.5,
			Description:    IssueDutyVsRegistration,
		},
		{
			Category:       CategoryConcept,
			QueryPatterns:  []string{"lịch giảng dạy giảng viên", "teaching schedule"},
			AnswerPatterns: []string{"lịch học sinh viên", "student timetable"},
			Severity:       0.4,
			Description:    IssueTeachingVsLearning,
		},
		{
			Category:       CategoryTopic,
			QueryPatterns:  []string{"học phí", "lệ phí", "tuition", "fee"},
			AnswerPatterns: []string{"cuộc thi", "moswc", "viettel", "robot", "competition"},
			Severity:       0.9,
			Description:    IssueFeesVsCompetition,
		},
		{
			Category:       CategoryTopic,
			QueryPatterns:  []string{"báo cáo", "report"},
			AnswerPatterns: []string{"sinh viên tham gia cuộc thi", "students joining the competition"},
			Severity:       0.6,
			Description:    IssueReportingVsActivities,
		},
		{
			Category:       CategoryTopic,
			QueryPatterns:  []string{"tài khoản ngân hàng", "bank account"},
			AnswerPatterns: []string{"khảo sát đánh giá", "evaluation survey"},
			Severity:       0.7,
			Description:    IssueBankingVsSurvey,
		},
		{
			Category:       CategoryContext,
			QueryPatterns:  []string{"giảng viên", "cán bộ", "lecturer", "staff"},
			AnswerPatterns: []string{"sinh viên chỉ", "dành riêng sinh viên", "students only"},
			Severity:       0.3,
			Description:    IssueFacultyVsStudentRole,
		},
	}
}

// DetectMismatches runs the rule table against query and the candidate answer
func DetectMismatches(rules []MismatchRule, query, answer string) MismatchAnalysis {
	q := strings.ToLower(query)
	a := strings.ToLower(answer)

	out := MismatchAnalysis{Severity: map[Category]float64{}, Issues: []string{}}
	for _, rule := range rules {
		if !rule.Matches(q, a) {
			continue
		}
		if rule.Severity > out.Severity[rule.Category] {
			out.Severity[rule.Category] = rule.Severity
		}
		out.Issues = append(out.Issues, rule.Issue())
	}
	return out
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
