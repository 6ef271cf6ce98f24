package memory

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"campus-qa-be/pkg/store"

	"golang.org/x/text/unicode/norm"
)

const (
	usableConfidence   = 0.4
	namedConfidence    = 0.8
	fallbackConfidence = 0.6
	wordOverlapRatio   = 0.6
	maxQueryKeywords   = 3
	maxNameKeywords    = 2
	directWindow       = 3
)

const capitalizedName = `(\p{Lu}\p{Ll}+(?:\s+\p{Lu}\p{Ll}+)*)`

// memoryReferences capture names the user asks us to recall
var memoryReferences = []*regexp.Regexp{
	regexp.MustCompile(`(?i:còn|vẫn)\s+(?i:nhớ|biết)\s+` + capitalizedName),
	regexp.MustCompile(`(?i:thế|vậy)\s+` + capitalizedName + `\s+(?i:là)\s+(?i:ai|gì)`),
	regexp.MustCompile(capitalizedName + `\s+(?i:là)\s+(?i:ai|gì)`),
	regexp.MustCompile(`(?i:ai)\s+(?i:là)\s+` + capitalizedName),
	regexp.MustCompile(`(?i:who is)\s+` + capitalizedName),
}

// directReferences are follow-ups about one specific person
var directReferences = []*regexp.Regexp{
	regexp.MustCompile(`(?i:vậy|thế)\s+` + capitalizedName + `\s+(?i:là)\s+(?i:ai|gì)`),
	regexp.MustCompile(`(?i:vậy|thế)\s+(?i:thầy|cô|ông|bà|anh|chị)\s+` + capitalizedName),
	regexp.MustCompile(`(?i:còn|và)\s+` + capitalizedName + `\s+(?i:thì sao|như thế nào|là ai)`),
	regexp.MustCompile(capitalizedName + `\s+(?i:là)\s+(?i:ai|gì)`),
	regexp.MustCompile(`(?i:ông|bà|thầy|cô|anh|chị)\s+` + capitalizedName + `\s*[?.!]*\s*$`),
}

var personPronouns = []string{"ông ấy", "bà ấy", "người đó", "thầy ấy", "cô ấy", "anh ấy", "chị ấy", "that person"}

var contextIndicators = []string{
	"là ai", "ai là", "còn nhớ", "vậy ", "thế ", "ông ", "bà ", "thầy ", "cô ", "anh ", "chị ",
	"who is", "that person",
}

var honorifics = []string{"gs.ts", "ts", "gs", "thầy", "cô", "giáo sư", "tiến sĩ", "ông", "bà"}

// QueryContext is what memory contributes to answering one query
type QueryContext struct {
	Keywords         []string
	RelatedEntities  []RelatedEntity
	ShouldUseContext bool
	Strength         int
	Confidence       float64
	ExtractedNames   []string
	FallbackUsed     bool
}

// RelatedEntity is a remembered entity judged relevant to the query
type RelatedEntity struct {
	Entity     string
	Type       string
	Related    []string
	Confidence float64
}

// DirectHit is a follow-up that names a person from a recent turn
type DirectHit struct {
	Name     string
	Position string
	Turn     store.Turn
}

// GetContextForQuery decides whether earlier turns should steer this query and with which keywords
func (m *Memory) GetContextForQuery(mem *store.SessionMemory, query string) QueryContext {
	out := QueryContext{Keywords: []string{}, RelatedEntities: []RelatedEntity{}, ExtractedNames: ExtractQueryNames(query)}
	if mem == nil || len(mem.EntityMemory) == 0 && len(out.ExtractedNames) == 0 {
		return out
	}

	normalizedQuery := normalizeForMatching(query)
	matched := map[string]bool{}

	for _, key := range orderedKeys(mem.EntityMemory) {
		rec := mem.EntityMemory[key]
		named := false
		for _, name := range out.ExtractedNames {
			if NamesMatchFlexible(name, rec.OriginalForm) || NamesMatchFlexible(name, key) {
				named = true
				break
			}
		}
		if named {
			out.RelatedEntities = append(out.RelatedEntities, related(key, rec, namedConfidence))
			matched[key] = true
		}
	}

	for _, key := range orderedKeys(mem.EntityMemory) {
		if matched[key] {
			continue
		}
		rec := mem.EntityMemory[key]
		if strictlyRelevant(normalizedQuery, key, rec.OriginalForm) {
			out.RelatedEntities = append(out.RelatedEntities, related(key, rec, rec.Confidence))
		}
	}

	if len(out.RelatedEntities) == 0 {
		for _, name := range out.ExtractedNames {
			if len(strings.Fields(name)) >= 2 {
				out.RelatedEntities = append(out.RelatedEntities, RelatedEntity{
					Entity:     name,
					Type:       store.EntityPerson,
					Related:    []string{},
					Confidence: fallbackConfidence,
				})
				out.FallbackUsed = true
			}
		}
	}

	for _, e := range out.RelatedEntities {
		out.Confidence = max(out.Confidence, e.Confidence)
		if e.Confidence > usableConfidence {
			out.ShouldUseContext = true
		}
	}
	if out.FallbackUsed {
		out.Confidence = fallbackConfidence
	}

	if !out.ShouldUseContext && (len(out.RelatedEntities) > 0 || len(out.ExtractedNames) > 0) {
		lower := strings.ToLower(query)
		for _, ind := range contextIndicators {
			if strings.Contains(lower, ind) {
				out.ShouldUseContext = true
				break
			}
		}
	}

	if out.ShouldUseContext {
		seen := map[string]bool{}
		push := func(k string) {
			k = strings.TrimSpace(k)
			key := strings.ToLower(k)
			if len(out.Keywords) < maxQueryKeywords && k != "" && !seen[key] {
				seen[key] = true
				out.Keywords = append(out.Keywords, k)
			}
		}
		for i, name := range out.ExtractedNames {
			if i == maxNameKeywords {
				break
			}
			push(name)
		}
		for _, e := range out.RelatedEntities {
			push(e.Entity)
		}
	}
	out.Strength = len(out.RelatedEntities)
	return out
}

// FindDirectEntity answers "who is X" follow-ups straight from the last few turns.
// A pronoun resolves to the most recent person mentioned.
func (m *Memory) FindDirectEntity(mem *store.SessionMemory, query string) (DirectHit, bool) {
	if mem == nil || len(mem.Turns) == 0 {
		return DirectHit{}, false
	}
	query = norm.NFC.String(query)
	lower := strings.ToLower(query)

	pronoun := false
	for _, p := range personPronouns {
		if strings.Contains(lower, p) {
			pronoun = true
			break
		}
	}
	target := ""
	for _, re := range directReferences {
		if sm := re.FindStringSubmatch(query); sm != nil {
			if name := trimFillers(sm[1]); plausibleQueryName(name) {
				target = name
				break
			}
		}
	}
	if target == "" && !pronoun {
		return DirectHit{}, false
	}

	for i := len(mem.Turns) - 1; i >= 0 && i >= len(mem.Turns)-directWindow; i-- {
		turn := mem.Turns[i]
		for _, person := range turn.ExtractedEntities[store.EntityPerson] {
			if (target != "" && NamesMatchFlexible(target, person)) || (target == "" && pronoun) {
				hit := DirectHit{Name: person, Turn: turn}
				if ps := turn.ExtractedEntities[store.EntityPosition]; len(ps) > 0 {
					hit.Position = ps[0]
				}
				m.logger.Info("MEMORY", "Direct entity follow-up", map[string]interface{}{
					"session_id": mem.SessionID,
					"name":       person,
					"turn_id":    turn.ID,
				})
				return hit, true
			}
		}
	}
	return DirectHit{}, false
}

// ExtractQueryNames pulls person names out of the query itself
func ExtractQueryNames(query string) []string {
	query = norm.NFC.String(query)
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		n = trimFillers(n)
		key := strings.ToLower(n)
		if !plausibleQueryName(n) || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, n)
	}

	for _, re := range memoryReferences {
		for _, sm := range re.FindAllStringSubmatch(query, -1) {
			add(sm[1])
		}
	}
	for _, n := range extractPersons(query) {
		add(n)
	}
	return names
}

// related reports the entity in its display form; name priority in the reranker needs the capitals
func related(key string, rec *store.EntityRecord, confidence float64) RelatedEntity {
	return RelatedEntity{
		Entity:     displayForm(key, rec),
		Type:       rec.Type,
		Related:    append([]string{}, rec.RelatedEntities...),
		Confidence: confidence,
	}
}

// strictlyRelevant keeps short generic entities from attaching to unrelated queries
func strictlyRelevant(normalizedQuery, key, original string) bool {
	if normalizedQuery == "" {
		return false
	}
	entity := normalizeForMatching(key)
	if entity == "" {
		return false
	}
	if containsWords(normalizedQuery, entity) || containsWords(normalizedQuery, normalizeForMatching(original)) {
		return true
	}

	entityWords := strings.Fields(entity)
	queryWords := wordSet(strings.Fields(normalizedQuery)...)
	overlap := 0
	for _, w := range entityWords {
		if queryWords[w] {
			overlap++
		}
	}
	if len(entityWords) >= 2 && float64(overlap)/float64(len(entityWords)) >= wordOverlapRatio {
		return true
	}

	if len(entityWords) >= 2 {
		first, last := entityWords[0], entityWords[len(entityWords)-1]
		if queryWords[first] && queryWords[last] {
			return true
		}
		if len(entityWords) >= 3 && queryWords[entityWords[len(entityWords)-2]] && queryWords[last] {
			return true
		}
		if utf8.RuneCountInString(last) > 2 {
			for _, h := range honorifics {
				if containsWords(normalizedQuery, h+" "+last) {
					return true
				}
			}
		}
	}
	return false
}

// containsWords reports whether needle occurs in haystack on word boundaries
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// plausibleQueryName drops capitalized sentence openers such as "Học phí là gì"
func plausibleQueryName(name string) bool {
	if utf8.RuneCountInString(name) <= 2 || !hasUpper(name) {
		return false
	}
	lower := strings.ToLower(name)
	folded := fold(name)
	if isTimeExpression(lower) || personBlacklist[folded] || commonPhrases[folded] {
		return false
	}
	for _, w := range strings.Fields(lower) {
		if noiseWords[w] || nonNameWords[fold(w)] && !commonSurnames[w] {
			return false
		}
	}
	return true
}

func trimFillers(name string) string {
	words := strings.Fields(name)
	for len(words) > 0 && leadingFillers[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// orderedKeys lists entities most recently used first
func orderedKeys(entities map[string]*store.EntityRecord) []string {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entities[keys[i]], entities[keys[j]]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.After(b.LastUsedAt)
		}
		return keys[i] < keys[j]
	})
	return keys
}
