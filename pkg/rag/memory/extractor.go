package memory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"campus-qa-be/pkg/store"

	"golang.org/x/text/unicode/norm"
)

var ErrInvalidText = errors.New("text is not valid utf-8")

// EntityExtractor finds typed entities in free text
type EntityExtractor interface {
	Extract(text string) (map[string][]string, error)
}

var positions = []string{
	"phó chủ nhiệm bộ môn", "phó chủ tịch hội đồng", "chủ nhiệm bộ môn", "chủ tịch hội đồng",
	"phó trưởng phòng", "phó trưởng khoa", "phó hiệu trưởng", "phó giáo sư", "phó giám đốc",
	"phó chủ tịch", "hiệu trưởng", "trưởng phòng", "trưởng khoa", "giáo sư", "tiến sĩ", "thạc sĩ",
	"giảng viên", "trợ giảng", "chủ tịch", "ủy viên", "thành viên", "trưởng ban", "phó ban",
	"giám đốc", "trưởng nhóm", "phó nhóm", "chuyên viên", "cố vấn", "trợ lý",
}

var knownDepartments = []string{
	"trường đại học bình dương", "đại học bình dương", "bdu",
	"khoa công nghệ thông tin", "khoa kinh tế", "khoa luật", "khoa kỹ thuật", "khoa ngoại ngữ",
	"khoa sư phạm", "khoa y dược", "phòng đào tạo", "phòng tài chính", "phòng hành chính",
	"phòng khoa học công nghệ", "phòng quan hệ quốc tế", "ban quản lý ký túc xá", "ban an ninh",
}

var (
	personRun     = regexp.MustCompile(`\p{Lu}\p{Ll}+(?:[ \t]+\p{Lu}\p{Ll}+)+`)
	departmentRun = regexp.MustCompile(`(?:phòng thí nghiệm|thư viện|trung tâm|bộ môn|khoa|phòng|ban|viện)\s+[^.!?,;:\n()"]+`)
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*(?:\s*(?:triệu|nghìn|tỷ|đồng|vnđ|usd|phần trăm|%|tín chỉ))?`)
	datePatterns  = []*regexp.Regexp{
		regexp.MustCompile(`\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
		regexp.MustCompile(`năm học \d{4}-\d{4}`),
		regexp.MustCompile(`(?:ngày|tháng) \d{1,2}|năm \d{4}|học kỳ \d+`),
	}
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+84|0)\d{9,10}`)
	digits       = regexp.MustCompile(`\d`)
)

// leadingFillers are capitalized at sentence start and stripped off a name run
var leadingFillers = wordSet(
	"thầy", "cô", "ông", "bà", "anh", "chị", "em", "dạ", "thưa", "vậy", "thế", "còn",
	"cho", "hỏi", "xin", "chào", "và", "ai", "ts", "gs", "pgs", "ths",
)

var personParticles = wordSet("cô", "thầy", "anh", "chị", "em", "dạ", "được", "phải", "theo", "như", "từ")

var noiseWords = wordSet(
	"có", "cần", "thể", "thêm", "gì", "không", "hỗ", "trợ", "để", "em", "là", "ai",
	"nói", "rõ", "hơn", "về", "vấn", "đề", "chính", "xác", "nhất",
)

var leadingLinkers = wordSet("và", "hoặc", "với", "để", "khi", "nếu", "tại", "về", "cho", "trong", "của", "từ")

var trailingParticles = wordSet("ạ", "à", "ơi", "nhé")

// departmentStops end a department name; what follows is the sentence, not the unit
var departmentStops = wordSet(
	"là", "của", "và", "có", "được", "ở", "tại", "thì", "không", "gì", "ai", "nào", "như",
	"về", "để", "cho", "với", "hay", "hoặc", "ạ", "à", "nhé", "ơi", "bao", "khi", "đã", "sẽ", "đang",
)

var departmentExclusions = []string{"ban hành", "ban đầu", "khoa học", "phòng khi", "phòng ngừa", "phòng chống"}

// blacklists compare against accent-folded text
var personBlacklist = wordSet(
	"hoc phi chinh", "quy khanh", "duc tin", "duc hanh", "duc duc", "nam duc", "hoc phi", "chi phi",
	"muc phi", "le phi", "phi le", "thu phi", "quy dinh", "quy che", "quy trinh", "quy tac", "quy luat",
	"duc tinh", "duc tich", "nam hoc", "nam tu", "nam toi", "nam sau", "nam truoc", "tin chi", "chi tiet",
	"chi tieu", "bao cao", "cao cap", "cao dang", "cap hoc", "cap do", "sinh vien", "giang vien", "can bo",
	"hoc sinh", "nghien cuu sinh", "dai hoc", "cao hoc", "tien si", "thac si", "cu nhan", "mon hoc",
	"bai hoc", "gio hoc", "lop hoc", "hoc tap", "binh duong", "bdu", "truong dai hoc", "phong ban",
	"khoa hoc", "nghien cuu", "dao tao", "quan ly", "hanh chinh", "ky thuat", "cong nghe", "kinh te",
	"ngoai ngu", "su pham", "y khoa", "hoc bong", "chi nhanh", "quy trinh dang ky", "nam thanh cong",
	"hay lam", "la tot", "co the lam",
)

var commonPhrases = wordSet(
	"co the", "co ban", "co so", "co hoi", "co quan", "co mat", "la mot", "la cach", "la gi", "la ai",
	"la khi", "duoc su", "duoc cap", "duoc phep", "duoc biet", "hay la", "hay khong", "hay nhat",
	"neu co", "neu khong", "neu la", "neu can", "the nao", "lam the nao", "tai sao", "vi sao",
	"nhu the nao", "dang ky", "dang nhap", "cong viec",
)

const maxDepartmentWords = 6

// Extractor is the rule-based extractor for campus conversations
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns entities grouped by type. Types with no hits are omitted.
func (e *Extractor) Extract(text string) (entities map[string][]string, err error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidText
	}
	defer func() {
		if r := recover(); r != nil {
			entities, err = nil, fmt.Errorf("entity extraction panicked: %v", r)
		}
	}()

	text = norm.NFC.String(text)
	lower := strings.ToLower(text)

	found := map[string][]string{}
	add := func(kind string, values []string) {
		if v := dedupe(kind, values); len(v) > 0 {
			found[kind] = v
		}
	}

	add(store.EntityPerson, extractPersons(text))
	add(store.EntityPosition, findPhrases(lower, positions))
	add(store.EntityDepartment, extractDepartments(lower))
	add(store.EntityNumber, numberPattern.FindAllString(lower, -1))
	var dates []string
	for _, p := range datePatterns {
		dates = append(dates, p.FindAllString(lower, -1)...)
	}
	add(store.EntityDate, dates)
	add(store.EntityEmail, emailPattern.FindAllString(text, -1))
	add(store.EntityPhone, phonePattern.FindAllString(text, -1))

	return found, nil
}

func extractPersons(text string) []string {
	var out []string
	for _, loc := range personRun.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(text[:loc[0]])
			if unicode.IsLetter(prev) {
				continue
			}
		}
		words := strings.Fields(text[loc[0]:loc[1]])
		for len(words) > 0 && leadingFillers[strings.ToLower(words[0])] {
			words = words[1:]
		}
		if len(words) > 4 {
			words = words[:4]
		}
		name := strings.Join(words, " ")
		if validPerson(name) {
			out = append(out, name)
		}
	}
	return out
}

func extractDepartments(lower string) []string {
	out := findPhrases(lower, knownDepartments)
	for _, loc := range departmentRun.FindAllStringIndex(lower, -1) {
		if loc[0] > 0 {
			prev, _ := utf8.DecodeLastRuneInString(lower[:loc[0]])
			if unicode.IsLetter(prev) {
				continue
			}
		}
		words := strings.Fields(lower[loc[0]:loc[1]])
		// the unit prefix may itself be two words ("bộ môn"); stop words never start a name
		cut := len(words)
		for i := 1; i < len(words); i++ {
			if departmentStops[words[i]] {
				cut = i
				break
			}
		}
		words = words[:min(cut, maxDepartmentWords)]
		if name := strings.Join(words, " "); validDepartment(name) {
			out = append(out, name)
		}
	}
	return out
}

// findPhrases matches a closed list on word boundaries, longest phrase first
func findPhrases(lower string, phrases []string) []string {
	ordered := append([]string(nil), phrases...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	taken := make([]bool, len(lower))
	type hit struct {
		at   int
		text string
	}
	var hits []hit
	for _, p := range ordered {
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], p)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(p)
			from = end
			if !atWordBoundary(lower, start, end) || overlaps(taken, start, end) {
				continue
			}
			for k := start; k < end; k++ {
				taken[k] = true
			}
			hits = append(hits, hit{at: start, text: p})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].at < hits[j].at })
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}

func atWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func overlaps(taken []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if taken[k] {
			return true
		}
	}
	return false
}

func validPerson(name string) bool {
	if !validCommon(name) {
		return false
	}
	words := strings.Fields(strings.ToLower(name))
	if len(words) < 2 || len(words) > 4 || isTimeExpression(strings.Join(words, " ")) {
		return false
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) < 2 || personParticles[w] || noiseWords[w] {
			return false
		}
	}
	if personBlacklist[fold(name)] {
		return false
	}
	return LooksLikeVietnameseName(name)
}

func validDepartment(name string) bool {
	if !validCommon(name) || utf8.RuneCountInString(name) < 5 || digits.MatchString(name) {
		return false
	}
	words := strings.Fields(name)
	if len(words) < 2 {
		return false
	}
	for _, ex := range departmentExclusions {
		if name == ex || strings.HasPrefix(name, ex+" ") {
			return false
		}
	}
	for _, w := range words[1:] {
		if noiseWords[w] {
			return false
		}
	}
	return true
}

// validCommon applies the checks shared by every free-form entity
func validCommon(value string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(value)) < 3 {
		return false
	}
	words := strings.Fields(strings.ToLower(value))
	if len(words) == 0 || leadingLinkers[words[0]] || trailingParticles[words[len(words)-1]] {
		return false
	}
	return !commonPhrases[fold(value)]
}

// dedupe normalizes values per type and keeps first-seen order
func dedupe(kind string, values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if kind == store.EntityPerson {
			v = titleCase(v)
		} else if kind != store.EntityEmail {
			v = strings.ToLower(v)
		}
		key := strings.ToLower(v)
		if utf8.RuneCountInString(v) < 3 || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// BuildRelationships links entities that co-occur in one exchange.
// Closeness is measured over the lowercased query and answer joined by a space.
func BuildRelationships(query, answer string, entities map[string][]string) []store.Relationship {
	full := strings.ToLower(query) + " " + strings.ToLower(answer)
	lowerQuery := strings.ToLower(query)
	asksIdentity := false
	for _, cue := range []string{"là ai", "ai là", "chức vụ", "là gì", "who is"} {
		if strings.Contains(lowerQuery, cue) {
			asksIdentity = true
			break
		}
	}

	persons := entities[store.EntityPerson]
	positionsFound := entities[store.EntityPosition]
	departments := entities[store.EntityDepartment]

	var rels []store.Relationship
	if asksIdentity {
		for _, p := range persons {
			for _, pos := range positionsFound {
				rels = append(rels, store.Relationship{
					Type: "person_position", Entity1: p, Entity2: pos, Relation: "has_position",
					Confidence: closeness(full, p, pos, 0.8, 0.1), Source: "query_answer_pair",
				})
			}
		}
	}
	for _, p := range persons {
		for _, d := range departments {
			rels = append(rels, store.Relationship{
				Type: "person_department", Entity1: p, Entity2: d, Relation: "works_at",
				Confidence: closeness(full, p, d, 0.7, 0.1), Source: "context",
			})
		}
	}
	for _, pos := range positionsFound {
		for _, d := range departments {
			rels = append(rels, store.Relationship{
				Type: "position_department", Entity1: pos, Entity2: d, Relation: "in_department",
				Confidence: closeness(full, pos, d, 0.6, 0.15), Source: "context",
			})
		}
	}
	return rels
}

const closeWindow = 50

func closeness(full, a, b string, base, bonus float64) float64 {
	i := strings.Index(full, strings.ToLower(a))
	j := strings.Index(full, strings.ToLower(b))
	if i >= 0 && j >= 0 {
		d := i - j
		if d < 0 {
			d = -d
		}
		if d < closeWindow {
			base += bonus
		}
	}
	return min(base, 1.0)
}
