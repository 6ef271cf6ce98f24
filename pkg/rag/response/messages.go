package response

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"campus-qa-be/pkg/rag/external"
	"campus-qa-be/pkg/rag/prompt"
	"campus-qa-be/pkg/rag/rerank"
)

// EmptyQueryMessage answers a blank query before any session state is touched
const EmptyQueryMessage = "Dạ chào giảng viên! Em có thể hỗ trợ gì cho giảng viên về công việc tại BDU ạ? 🎯"

func OutOfScopeMessage(address string) string {
	return fmt.Sprintf("Dạ %s, em chỉ hỗ trợ các vấn đề liên quan đến công việc giảng viên tại BDU thôi ạ! 🎯", address)
}

func ClarificationMessage(address string) string {
	return fmt.Sprintf("Dạ %s, để em hỗ trợ chính xác nhất, %s có thể nói rõ hơn về vấn đề cần hỗ trợ không ạ? 🎯", address, address)
}

func DocumentFallbackMessage(address string) string {
	return fmt.Sprintf("Dạ %s, em đã xem xét tài liệu nhưng gặp khó khăn trong việc trả lời. %s có thể đặt câu hỏi cụ thể hơn không ạ? 🎯",
		address, prompt.Title(address))
}

func AuthRequiredMessage(address string) string {
	return fmt.Sprintf("Dạ %s, để em có thể cung cấp thông tin cá nhân như lịch giảng dạy, %s cần đăng nhập vào ứng dụng trước ạ. 🔐", address, address)
}

func PersonalDataErrorMessage(address string) string {
	return fmt.Sprintf("Dạ %s, em gặp khó khăn khi truy xuất thông tin cá nhân. %s có thể thử lại sau hoặc liên hệ bộ phận IT để được hỗ trợ ạ. 🎯",
		address, prompt.Title(address))
}

func TechnicalErrorMessage(address string) string {
	return fmt.Sprintf("Dạ %s, em gặp khó khăn kỹ thuật. %s có thể liên hệ bộ phận IT qua email it@bdu.edu.vn để được hỗ trợ ạ. 🎯",
		address, prompt.Title(address))
}

func SocialFallbackMessage(address string) string {
	return fmt.Sprintf("Dạ chào %s! Em là ChatBDU, trợ lý hỗ trợ giảng viên tại BDU. %s cần em hỗ trợ gì ạ? 🎯", address, prompt.Title(address))
}

type contactRoute struct {
	keywords   []string
	department string
	email      string
}

// checked in order; the last route catches everything
var dontKnowRoutes = []contactRoute{
	{[]string{"ngân hàng đề", "đề thi", "khảo thí"}, "Phòng Đảm bảo chất lượng và Khảo thí", "ldkham@bdu.edu.vn"},
	{[]string{"kê khai", "nhiệm vụ", "giờ chuẩn"}, "Phòng Tổ chức - Cán bộ", "tcccb@bdu.edu.vn"},
	{[]string{"tạp chí", "nghiên cứu", "khoa học"}, "Phòng Nghiên cứu - Hợp tác", "nghiencuu@bdu.edu.vn"},
	{[]string{"khen thưởng", "thi đua"}, "Phòng Tổ chức - Cán bộ", "tcccb@bdu.edu.vn"},
}

// DontKnowMessage points the user to the office most likely to know
func DontKnowMessage(address, query string) string {
	q := strings.ToLower(query)
	department, email := "phòng ban liên quan", "info@bdu.edu.vn"
	for _, route := range dontKnowRoutes {
		if containsAny(q, route.keywords) {
			department, email = route.department, route.email
			break
		}
	}
	return fmt.Sprintf("Dạ %s, em chưa có thông tin về vấn đề này. %s có thể liên hệ %s qua email %s để được hỗ trợ chi tiết ạ. 🎯",
		address, prompt.Title(address), department, email)
}

// SmartClarificationMessage asks a targeted question when the best answer is known to be off-topic
func SmartClarificationMessage(address string, issues []string) string {
	title := prompt.Title(address)
	switch {
	case hasIssue(issues, rerank.IssueWorkReportVsCredits):
		return fmt.Sprintf(`Dạ %[1]s, em thấy câu hỏi về "báo cáo khối lượng công việc" của giảng viên, nhưng thông tin em tìm được lại về khối lượng học tập của sinh viên.

%[2]s có thể làm rõ hơn:
- %[2]s cần thông tin về báo cáo khối lượng giờ giảng của giảng viên?
- Hay về thời gian nộp báo cáo nhiệm vụ giảng dạy?
- Hoặc về quy trình báo cáo công tác của khoa/bộ môn?

Em sẽ tìm thông tin chính xác hơn khi %[1]s làm rõ! 🎯`, address, title)
	case hasIssue(issues, rerank.IssueBankVsLoginAccount):
		return fmt.Sprintf(`Dạ %[1]s, em hiểu %[1]s hỏi về "số tài khoản để đóng học phí", nhưng thông tin em tìm được lại về tài khoản đăng nhập hệ thống.

%[2]s có thể xác nhận:
- %[2]s cần số tài khoản ngân hàng để chuyển tiền học phí?
- Hay cần thông tin về cách đóng học phí online?
- Hoặc về thủ tục thanh toán học phí tại trường?

Em sẽ tìm đúng thông tin %[1]s cần! 💳`, address, title)
	case hasIssue(issues, rerank.IssueFeesVsCompetition):
		return fmt.Sprintf(`Dạ %[1]s, em tìm thấy thông tin nhưng có vẻ không đúng chủ đề %[1]s quan tâm (thông tin về cuộc thi thay vì học phí).

%[2]s có thể nói rõ hơn về:
- Loại học phí cụ thể %[1]s cần biết?
- Phòng ban hoặc thủ tục liên quan?
- Đối tượng áp dụng?

Em sẽ tìm thông tin chính xác hơn! 🔍`, address, title)
	default:
		return fmt.Sprintf(`Dạ %[1]s, để em có thể hỗ trợ chính xác nhất, %[1]s có thể làm rõ hơn về vấn đề cần hỗ trợ không ạ?

Em sẽ tìm thông tin phù hợp nhất cho %[1]s! 🎯`, address)
	}
}

// MemoryDirectMessage answers a follow-up about a person from the previous turns
func MemoryDirectMessage(address, name, position string) string {
	if strings.TrimSpace(position) == "" {
		position = "vai trò đã được đề cập"
	}
	return fmt.Sprintf("Dạ %[1]s, khi đề cập đến \"%[2]s\", em đang hiểu là %[1]s hỏi về thông tin từ lượt trao đổi trước. "+
		"Theo đó, %[2]s giữ chức vụ là %[3]s ạ. %[4]s có cần em cung cấp thêm chi tiết nào từ thông tin gốc không ạ?",
		address, name, position, prompt.Title(address))
}

// PersonalDataFallbackMessage summarizes the lookup when the model produced nothing
func PersonalDataFallbackMessage(data *external.PersonalData) string {
	address := prompt.LecturerAddress(data.Lecturer)
	l := data.Lecturer
	return fmt.Sprintf(`Dạ %[1]s, em đã tìm thấy thông tin từ hệ thống của trường:

Thông tin của %[2]s:
- Mã giảng viên: %[3]s
- Chức danh: %[4]s
- Email: %[5]s

Lịch giảng dạy: %[6]d buổi học được lên lịch

%[7]s

%[8]s có cần em hỗ trợ thêm gì không ạ?`,
		address, orDefault(l.FullName, address), orDefault(l.ID, "Không xác định"),
		orDefault(l.Title, "Không xác định"), orDefault(l.Email, "Không có"),
		data.Summary.TotalClasses, prompt.FormatSchedule(data), prompt.Title(address))
}

var (
	leadingGreeting = regexp.MustCompile(`(?i)^\s*(?:dạ\s+(?:thầy|cô|giảng viên)[^,.!?]*[,.!?]\s*|xin chào[^.!?]*[.!?]\s*)`)
	terminalMark    = regexp.MustCompile(`[.!?…]$`)
)

// KnowledgeFallback formats a stored answer when generation produced nothing.
// preserved marks answers kept despite known mismatches.
func KnowledgeFallback(address, answer string, preserved bool) string {
	body := strings.TrimSpace(answer)
	for {
		stripped := leadingGreeting.ReplaceAllString(body, "")
		if stripped == body {
			break
		}
		body = strings.TrimSpace(stripped)
	}
	if body == "" {
		return DontKnowMessage(address, "")
	}

	r, size := utf8.DecodeRuneInString(body)
	body = string(unicode.ToUpper(r)) + body[size:]
	if !terminalMark.MatchString(body) {
		body += "."
	}

	closing := "%s cần em làm rõ thêm gì không ạ? 🎯"
	if preserved {
		closing = "%s có cần em hỗ trợ thêm gì không ạ? 🎯"
	}
	return fmt.Sprintf("Dạ %s, %s "+closing, address, body, prompt.Title(address))
}

var (
	selfAsLecturer = regexp.MustCompile(`(?i)(^|[^\p{L}])(?:em|tôi|mình)\s+(là|được ghi nhận là)\s+(một\s+)?(giảng viên|cán bộ|trưởng|phó|người)`)
	youPronoun     = regexp.MustCompile(`(?i)(^|[^\p{L}])bạn([^\p{L}]|$)`)
	firstPerson    = regexp.MustCompile(`(?i)(^|[^\p{L}])(?:mình|tôi)([^\p{L}]|$)`)
	trailingOffer  = regexp.MustCompile(`(?i)\s*(?:có cần[^?]*không ạ\?|cần[^?]*không\?|có[^?]*không\?)\s*$`)
	numberedBold   = regexp.MustCompile(`\*\*\d+\.\s*`)
	listMarker     = regexp.MustCompile(`(?m)^\s*(?:\d+\.|[•\-*])\s*`)
	boldText       = regexp.MustCompile(`\*\*(.*?)\*\*`)
)

// Personalize fixes pronouns and the greeting/closing of a personal-data answer
// and flattens markdown lists into plain lines.
func Personalize(text, address string) string {
	out := strings.TrimSpace(text)
	if out == "" {
		return out
	}

	out = selfAsLecturer.ReplaceAllString(out, "${1}"+address+" $2 $3$4")
	out = youPronoun.ReplaceAllString(out, "${1}"+address+"$2")
	out = firstPerson.ReplaceAllString(out, "${1}em$2")

	opening := "Dạ " + address + ","
	if !strings.HasPrefix(strings.ToLower(out), strings.ToLower("dạ "+address)) {
		lower := strings.ToLower(out)
		if strings.HasPrefix(lower, "dạ ") || strings.HasPrefix(lower, "dạ,") {
			out = strings.TrimLeft(out[len("dạ"):], ", ")
		}
		out = opening + " " + out
	}

	if !strings.HasSuffix(out, "có cần em hỗ trợ thêm gì không ạ?") {
		out = strings.TrimSpace(trailingOffer.ReplaceAllString(out, ""))
		out += " " + prompt.Title(address) + " có cần em hỗ trợ thêm gì không ạ?"
	}

	out = numberedBold.ReplaceAllString(out, "")
	out = boldText.ReplaceAllString(out, "$1")
	out = listMarker.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

func hasIssue(issues []string, description string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, description) {
			return true
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
