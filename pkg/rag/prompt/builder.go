package prompt

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"campus-qa-be/pkg/rag/external"
	"campus-qa-be/pkg/store"
)

const (
	DefaultAddress = "giảng viên"

	maxAnswerRunes   = 3500
	maxDocumentRunes = 3000
	summaryTurns     = 3
	summaryPreview   = 150
)

// Input carries what every prompt needs besides the decision-specific payload
type Input struct {
	Query         string
	Address       string // how the assistant addresses the user, e.g. "thầy An"
	Instructions  string // user's standing instructions
	RecentSummary string
}

// Builder renders the prompts for each answer strategy
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Address derives the form of address from a profile: "thầy"/"cô" plus the given
// name when the gender is known, the full name when only that is known.
func Address(p *store.UserProfile) string {
	if p == nil {
		return DefaultAddress
	}
	if t := strings.TrimSpace(p.Title); t != "" {
		return t
	}
	return addressFor(p.Gender, p.FullName)
}

// LecturerAddress is Address for the identity carried in an auth token
func LecturerAddress(l external.Lecturer) string {
	return addressFor(l.Gender, l.FullName)
}

func addressFor(gender, fullName string) string {
	salutation := ""
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "nam", "0":
		salutation = "thầy"
	case "female", "nữ", "1":
		salutation = "cô"
	}

	fields := strings.Fields(fullName)
	switch {
	case salutation == "" && len(fields) > 0:
		return strings.Join(fields, " ")
	case salutation == "":
		return DefaultAddress
	case len(fields) > 0:
		return salutation + " " + fields[len(fields)-1]
	default:
		return salutation
	}
}

// Title upper-cases the first letter of every word: "thầy an" -> "Thầy An"
func Title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// RecentSummary condenses the last few turns for prompt context
func RecentSummary(turns []store.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	start := len(turns) - summaryTurns
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, t := range turns[start:] {
		sb.WriteString("- Giảng viên hỏi: ")
		sb.WriteString(t.Query)
		sb.WriteString("\n  Trợ lý đã trả lời: ")
		sb.WriteString(truncate(t.Response, summaryPreview))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// System is the persona shared by every knowledge-base prompt
func (b *Builder) System(in Input) string {
	address := addressOrDefault(in.Address)
	var prompt strings.Builder
	prompt.WriteString("Bạn là ChatBDU, một trợ lý AI chuyên nghiệp và tận tâm của Đại học Bình Dương (BDU). ")
	prompt.WriteString("Sứ mệnh của bạn là hỗ trợ các giảng viên của trường một cách hiệu quả nhất.\n\n")
	prompt.WriteString("QUY TẮC NỀN TẢNG (CÓ THỂ BỊ GHI ĐÈ BỞI CHỈ DẪN RIÊNG):\n")
	fmt.Fprintf(&prompt, "1. Xưng hô: Bắt đầu câu trả lời bằng \"Dạ %s,\" và xưng là \"em\".\n", address)
	prompt.WriteString("2. Kết thúc: Kết thúc bằng một lời đề nghị hỗ trợ ngắn gọn và lịch sự. Không lặp lại tên/danh xưng ở cuối câu nếu không cần thiết.\n")
	prompt.WriteString("3. Văn phong: Tự nhiên, mạch lạc, không lặp từ.\n")
	prompt.WriteString("4. Tính chính xác: Không được bịa đặt thông tin. Nếu không biết, hãy trả lời là \"Dạ em chưa có thông tin về vấn đề này.\" và gợi ý kênh liên hệ khác.\n")
	prompt.WriteString("5. Phạm vi: Chỉ trả lời các câu hỏi liên quan đến công việc, quy định, thông báo và các hoạt động tại Đại học Bình Dương.\n")

	if instructions := strings.TrimSpace(in.Instructions); instructions != "" {
		prompt.WriteString("\n---\nGHI NHỚ VÀ CHỈ DẪN RIÊNG TỪ GIẢNG VIÊN:\n")
		prompt.WriteString(instructions)
		prompt.WriteString("\n---\n")
	}
	return prompt.String()
}

// KnowledgeAnswer asks the model to restate a knowledge-base answer for the question.
// detailed asks for a fuller answer than the stored one.
func (b *Builder) KnowledgeAnswer(in Input, answer string, detailed bool) string {
	var prompt strings.Builder
	prompt.WriteString(b.System(in))
	prompt.WriteString("\n---\nBỐI CẢNH VÀ NHIỆM VỤ\n\n")
	fmt.Fprintf(&prompt, "1. Kiến thức nền (từ CSDL):\n\"%s\"\n\n", truncate(answer, maxAnswerRunes))
	fmt.Fprintf(&prompt, "2. Câu hỏi của giảng viên:\n\"%s\"\n", in.Query)
	b.writeConversation(&prompt, in.RecentSummary)
	prompt.WriteString("\n3. YÊU CẦU CUỐI CÙNG:\n")
	prompt.WriteString("Hãy sử dụng \"Kiến thức nền\" để trả lời \"Câu hỏi của giảng viên\" theo đúng các quy tắc và chỉ dẫn riêng ở trên.\n")
	prompt.WriteString("Tạo câu trả lời mạch lạc, tự nhiên, tránh lặp lại thông tin đã thảo luận.\n")
	if detailed {
		prompt.WriteString("Đặc biệt: tạo câu trả lời chi tiết và toàn diện hơn kiến thức nền.\n")
	}
	prompt.WriteString("---\nTrả lời:\n")
	return prompt.String()
}

// Document answers strictly from a user-supplied document, which may be noisy OCR output
func (b *Builder) Document(in Input, documentText string) string {
	address := addressOrDefault(in.Address)
	doc := documentText
	if utf8.RuneCountInString(doc) > maxDocumentRunes {
		doc = DocumentExcerpt(doc, in.Query) + "\n\n[...tài liệu còn tiếp...]"
	}

	var prompt strings.Builder
	prompt.WriteString(b.System(in))
	prompt.WriteString("\nNHIỆM VỤ: Trả lời câu hỏi dựa trên nội dung tài liệu được cung cấp\n\n")
	prompt.WriteString("HƯỚNG DẪN XỬ LÝ DỮ LIỆU OCR:\n")
	prompt.WriteString("1. Tài liệu được trích xuất tự động nên bảng biểu có thể bị chuyển thành văn bản thuần. Các thông tin trên cùng một dòng thường thuộc cùng một hàng của bảng.\n")
	prompt.WriteString("2. Khi được hỏi \"có mấy điều\", \"có bao nhiêu\", hãy đếm các mục như \"Điều 1.\", \"Điều 2.\" hoặc số thứ tự trong danh sách.\n")
	prompt.WriteString("3. Tìm chính xác các từ khóa của câu hỏi trong toàn bộ văn bản, kể cả khi văn bản không có cấu trúc.\n\n")
	prompt.WriteString("<document>\n")
	prompt.WriteString(doc)
	prompt.WriteString("\n</document>\n")
	b.writeConversation(&prompt, in.RecentSummary)
	fmt.Fprintf(&prompt, "\nCÂU HỎI CỦA GIẢNG VIÊN: %s\n\n", in.Query)
	prompt.WriteString("YÊU CẦU TRẢ LỜI:\n")
	fmt.Fprintf(&prompt, "- Xưng hô: \"Dạ %s,\"\n", address)
	prompt.WriteString("- Chỉ trả lời dựa vào nội dung tài liệu ở trên, không dùng kiến thức bên ngoài\n")
	prompt.WriteString("- Nếu tài liệu không chứa thông tin cần thiết, hãy nói rõ điều đó\n")
	prompt.WriteString("- Trích dẫn cụ thể từ tài liệu khi có thể\n")
	fmt.Fprintf(&prompt, "- Kết thúc: \"%s có cần em hỗ trợ thêm gì không ạ?\"\n\n", Title(address))
	prompt.WriteString("Trả lời:")
	return prompt.String()
}

// PersonalData presents the lecturer's own schedule from the school system
func (b *Builder) PersonalData(in Input, data *external.PersonalData) string {
	address := LecturerAddress(data.Lecturer)
	l := data.Lecturer

	var prompt strings.Builder
	prompt.WriteString("Bạn là trợ lý AI của Đại học Bình Dương (BDU), chuyên hỗ trợ giảng viên.\n\n")
	prompt.WriteString("THÔNG TIN NGƯỜI DÙNG:\n")
	fmt.Fprintf(&prompt, "- Bạn đang trả lời cho %s %s\n", l.Title, l.FullName)
	fmt.Fprintf(&prompt, "- Xưng hô: \"%s\" (tuyệt đối không dùng \"bạn\", \"mình\", \"anh/chị\")\n", address)
	prompt.WriteString("- Đây là thông tin cá nhân từ hệ thống chính thức của trường\n\n")
	prompt.WriteString("THÔNG TIN GIẢNG VIÊN:\n")
	fmt.Fprintf(&prompt, "- Mã giảng viên: %s\n- Họ và tên: %s\n- Chức danh: %s\n- Trình độ: %s\n- Email: %s\n\n",
		l.ID, l.FullName, l.Title, l.Degree, l.Email)
	prompt.WriteString("TỔNG QUAN LỊCH GIẢNG DẠY:\n")
	fmt.Fprintf(&prompt, "- Tổng số buổi học: %d\n- Số môn học: %d\n- Tổng số tiết: %d\n\n",
		data.Summary.TotalClasses, data.Summary.UniqueSubjects, data.Summary.TotalPeriods)
	prompt.WriteString("CHI TIẾT LỊCH GIẢNG DẠY:\n")
	prompt.WriteString(FormatSchedule(data))
	prompt.WriteString("\n")
	b.writeConversation(&prompt, in.RecentSummary)
	fmt.Fprintf(&prompt, "\nCÂU HỎI CỦA GIẢNG VIÊN: %s\n\n", in.Query)
	prompt.WriteString("YÊU CẦU TRẢ LỜI:\n")
	fmt.Fprintf(&prompt, "- Luôn bắt đầu: \"Dạ %s,\"\n", address)
	prompt.WriteString("- Trả lời chính xác dựa trên dữ liệu thực tế từ hệ thống, không chế tạo thông tin\n")
	prompt.WriteString("- Bao gồm các chi tiết quan trọng: thời gian, địa điểm, môn học\n")
	fmt.Fprintf(&prompt, "- Kết thúc: \"%s có cần em hỗ trợ thêm gì không ạ?\"\n\n", Title(address))
	prompt.WriteString("Trả lời:")
	return prompt.String()
}

// SocialChat is the short prompt for greetings and questions about the assistant itself
func (b *Builder) SocialChat(in Input) string {
	return fmt.Sprintf("Bạn là ChatBDU, trợ lý ảo của Đại học Bình Dương.\n"+
		"Người dùng (xưng hô là %s) đang chào hỏi hoặc hỏi về bạn.\n"+
		"Hãy trả lời thân thiện, tự nhiên, ngắn gọn và xưng là 'em'.\n\n"+
		"Người dùng: %s", addressOrDefault(in.Address), in.Query)
}

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "Thứ Hai",
	time.Tuesday:   "Thứ Ba",
	time.Wednesday: "Thứ Tư",
	time.Thursday:  "Thứ Năm",
	time.Friday:    "Thứ Sáu",
	time.Saturday:  "Thứ Bảy",
	time.Sunday:    "Chủ Nhật",
}

// FormatSchedule lists the schedule day by day, one class per line
func FormatSchedule(data *external.PersonalData) string {
	dates := data.Dates()
	if len(dates) == 0 {
		return "Hiện tại không có lịch giảng dạy trong khoảng thời gian này."
	}

	var sb strings.Builder
	for _, date := range dates {
		label := date
		if d, err := time.Parse("02-01-2006", date); err == nil {
			label = weekdayNames[d.Weekday()] + ", " + date
		}
		fmt.Fprintf(&sb, "\n%s:\n", label)
		for _, e := range data.DailySchedule[date] {
			fmt.Fprintf(&sb, "   • %s (%s) - Lớp %s - Phòng %s - Tiết %d", e.SubjectName, e.SubjectCode, e.ClassCode, e.Room, e.StartPeriod)
			if e.Periods > 0 {
				fmt.Fprintf(&sb, " (%d tiết)", e.Periods)
			}
			if e.Students > 0 {
				fmt.Fprintf(&sb, " - %d SV", e.Students)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimLeft(sb.String(), "\n")
}

func (b *Builder) writeConversation(prompt *strings.Builder, summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	prompt.WriteString("\nNGỮ CẢNH HỘI THOẠI GẦN ĐÂY:\n")
	prompt.WriteString(summary)
	prompt.WriteString("\nLưu ý: tham khảo ngữ cảnh trên để tránh lặp lại thông tin đã thảo luận.\n")
}

func addressOrDefault(address string) string {
	if strings.TrimSpace(address) == "" {
		return DefaultAddress
	}
	return address
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
