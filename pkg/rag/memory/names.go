package memory

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nameParticles = wordSet("dạ", "ạ", "ơi", "nhé", "vậy", "thì", "là", "của", "và", "với")

var matchingParticles = wordSet("dạ", "ạ", "à", "ơi", "nhé", "vậy", "thì", "là", "ai", "gì", "như", "thế", "nào")

// timeExpressions look like capitalized names ("Thứ Hai") but never refer to a person
var timeExpressions = []string{
	"thứ hai", "thứ ba", "thứ tư", "thứ năm", "thứ sáu", "thứ bảy", "chủ nhật",
	"hôm nay", "hôm qua", "ngày mai", "tuần này", "tuần sau", "tháng này", "năm nay",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

var commonSurnames = wordSet(
	"nguyễn", "trần", "lê", "phạm", "hoàng", "huỳnh", "phan", "vũ", "võ", "đặng",
	"bùi", "đỗ", "hồ", "ngô", "dương", "lý", "cao", "đậu", "lưu", "tô",
	"trương", "đào", "đinh", "lâm", "mai", "tạ", "hà", "vương", "triệu", "khổng",
)

var foldedSurnames = func() map[string]bool {
	set := make(map[string]bool, len(commonSurnames))
	for s := range commonSurnames {
		set[fold(s)] = true
	}
	return set
}()

// nonNameWords are folded words that show up capitalized in headings and unit names
var nonNameWords = wordSet(
	"phi", "quy", "hoc", "chi", "binh", "duong", "bdu", "truong", "dai", "khoa", "phong", "ban", "vien",
)

var punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NamesMatchFlexible decides whether two spellings refer to the same person.
// "Nguyễn Văn Cường" matches "cường"; "thứ hai" never matches a name.
func NamesMatchFlexible(a, b string) bool {
	n1 := stripParticles(a, nameParticles)
	n2 := stripParticles(b, nameParticles)
	if n1 == "" || n2 == "" {
		return false
	}
	if isTimeExpression(n1) || isTimeExpression(n2) {
		return false
	}
	if n1 == n2 {
		return true
	}

	w1 := strings.Fields(n1)
	w2 := strings.Fields(n2)
	s1 := wordSet(w1...)
	s2 := wordSet(w2...)

	switch {
	case len(s1) >= 2 && len(s2) >= 2:
		overlap := 0
		for w := range s1 {
			if s2[w] {
				overlap++
			}
		}
		return float64(overlap)/float64(min(len(s1), len(s2))) >= 0.6
	case len(s1) == 1 && len(s2) >= 2:
		return s2[w1[0]] && utf8.RuneCountInString(w1[0]) > 2
	case len(s2) == 1 && len(s1) >= 2:
		return s1[w2[0]] && utf8.RuneCountInString(w2[0]) > 2
	case len(s1) == 1 && len(s2) == 1:
		if utf8.RuneCountInString(w1[0]) >= 3 && utf8.RuneCountInString(w2[0]) >= 3 {
			return strings.Contains(w1[0], w2[0]) || strings.Contains(w2[0], w1[0])
		}
	}
	return false
}

// LooksLikeVietnameseName is a cheap plausibility check on a candidate person name
func LooksLikeVietnameseName(name string) bool {
	words := strings.Fields(strings.ToLower(name))
	if len(words) == 0 {
		return false
	}
	if commonSurnames[words[0]] || foldedSurnames[fold(words[0])] {
		return true
	}
	for _, w := range words {
		if nonNameWords[fold(w)] {
			return false
		}
	}
	return len(words) >= 2
}

func isTimeExpression(normalized string) bool {
	for _, t := range timeExpressions {
		if normalized == t || strings.HasPrefix(normalized, t+" ") {
			return true
		}
	}
	return false
}

// normalizeForMatching lowercases, drops punctuation and filler words
func normalizeForMatching(text string) string {
	return stripParticles(punctuation.ReplaceAllString(norm.NFC.String(text), " "), matchingParticles)
}

func stripParticles(text string, particles map[string]bool) string {
	words := strings.Fields(strings.ToLower(norm.NFC.String(text)))
	kept := words[:0]
	for _, w := range words {
		if !particles[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// fold strips diacritics so "Lê Phí" and "le phi" compare equal
func fold(s string) string {
	out, _, err := transform.String(accentFolder, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.NewReplacer("đ", "d", "Đ", "d").Replace(out)
}

func titleCase(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
