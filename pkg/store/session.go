package store

import "time"

// Default bounds for per-session memory
const (
	DefaultMaxTurns         = 30
	MaxEntityContexts       = 3
	MaxEntityRelationships  = 20
	MaxContextKeywords      = 5
	DefaultContextTypeLabel = "lecturer"
)

// Entity types produced by the extractor
const (
	EntityPerson     = "person_name"
	EntityPosition   = "position"
	EntityDepartment = "department"
	EntityNumber     = "numbers"
	EntityDate       = "dates"
	EntityEmail      = "email"
	EntityPhone      = "phone_number"
)

// SessionMemory is the per-conversation state owned by one session
type SessionMemory struct {
	SessionID           string                   `json:"session_id"`
	Turns               []Turn                   `json:"turns"`
	EntityMemory        map[string]*EntityRecord `json:"entity_memory"`
	EntityRelationships []Relationship           `json:"entity_relationships"`
	ContextKeywords     []string                 `json:"context_keywords"`
	ContextSummary      string                   `json:"context_summary"`
	ConversationType    string                   `json:"conversation_type"`
	Profile             *UserProfile             `json:"profile,omitempty"`
	CreatedAt           time.Time                `json:"created_at"`
	UpdatedAt           time.Time                `json:"updated_at"`
}

// Turn is one recorded question/answer exchange
type Turn struct {
	ID                string              `json:"id"`
	Query             string              `json:"query"`
	Response          string              `json:"response"`
	DecisionKind      string              `json:"decision_kind"`
	Intent            string              `json:"intent"`
	FinalScore        float64             `json:"final_score"`
	Sources           []Candidate         `json:"sources,omitempty"`
	ExtractedEntities map[string][]string `json:"extracted_entities"`
	Relationships     []Relationship      `json:"relationships"`
	Timestamp         time.Time           `json:"timestamp"`
}

// EntityRecord remembers one entity seen in the conversation
type EntityRecord struct {
	OriginalForm    string          `json:"original_form"`
	Type            string          `json:"type"`
	Contexts        []EntityContext `json:"contexts"`
	RelatedEntities []string        `json:"related_entities"`
	Confidence      float64         `json:"confidence"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastUsedAt      time.Time       `json:"last_used_at"`
}

// EntityContext is a snippet of the exchange an entity appeared in
type EntityContext struct {
	Snippet         string    `json:"snippet"`
	Query           string    `json:"query"`
	ResponsePreview string    `json:"response_preview"`
	Timestamp       time.Time `json:"timestamp"`
}

// Relationship links two co-occurring entities
type Relationship struct {
	Type       string  `json:"type"` // person_position | person_department | position_department
	Entity1    string  `json:"entity1"`
	Entity2    string  `json:"entity2"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

// UserProfile is supplied by the caller, never inferred
type UserProfile struct {
	FullName     string `json:"full_name,omitempty"`
	Gender       string `json:"gender,omitempty"` // male | female, "nam"/"nữ" and 0/1 also accepted
	Title        string `json:"title,omitempty"`  // preferred form of address, overrides the derived one
	Role         string `json:"role,omitempty"`
	Instructions string `json:"instructions,omitempty"` // the user's standing instructions for the assistant
}

// NewSessionMemory creates an empty memory for the session
func NewSessionMemory(sessionID string, now time.Time) *SessionMemory {
	return &SessionMemory{
		SessionID:           sessionID,
		Turns:               []Turn{},
		EntityMemory:        map[string]*EntityRecord{},
		EntityRelationships: []Relationship{},
		ContextKeywords:     []string{},
		ConversationType:    DefaultContextTypeLabel,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// HasRelated reports whether key is already linked to the entity
func (e *EntityRecord) HasRelated(key string) bool {
	for _, k := range e.RelatedEntities {
		if k == key {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so a request can work on memory without touching the stored value
func (m *SessionMemory) Clone() *SessionMemory {
	if m == nil {
		return nil
	}
	out := *m
	out.Turns = make([]Turn, len(m.Turns))
	for i, t := range m.Turns {
		out.Turns[i] = t.clone()
	}
	out.EntityMemory = make(map[string]*EntityRecord, len(m.EntityMemory))
	for k, rec := range m.EntityMemory {
		r := *rec
		r.Contexts = append([]EntityContext(nil), rec.Contexts...)
		r.RelatedEntities = append([]string(nil), rec.RelatedEntities...)
		out.EntityMemory[k] = &r
	}
	out.EntityRelationships = append([]Relationship(nil), m.EntityRelationships...)
	out.ContextKeywords = append([]string(nil), m.ContextKeywords...)
	if m.Profile != nil {
		p := *m.Profile
		out.Profile = &p
	}
	return &out
}

func (t Turn) clone() Turn {
	out := t
	out.Sources = make([]Candidate, len(t.Sources))
	for i, c := range t.Sources {
		out.Sources[i] = c.Clone()
	}
	out.ExtractedEntities = make(map[string][]string, len(t.ExtractedEntities))
	for k, v := range t.ExtractedEntities {
		out.ExtractedEntities[k] = append([]string(nil), v...)
	}
	out.Relationships = append([]Relationship(nil), t.Relationships...)
	return out
}
