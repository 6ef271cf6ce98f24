package dto

import "time"

type ProcessQueryRequest struct {
	Query        string          `json:"query" validate:"max=4000"`
	SessionId    string          `json:"session_id,omitempty" validate:"omitempty,max=128"`
	DocumentText string          `json:"document_text,omitempty" validate:"max=200000"`
	Profile      *UserProfileDTO `json:"profile,omitempty"`
	AuthToken    string          `json:"-"` // taken from the Authorization header
}

// UserProfileDTO lets the client say how the lecturer wants to be addressed
type UserProfileDTO struct {
	FullName     string `json:"full_name,omitempty" validate:"max=255"`
	Gender       string `json:"gender,omitempty" validate:"max=16"`
	Title        string `json:"title,omitempty" validate:"max=64"`
	Role         string `json:"role,omitempty" validate:"max=64"`
	Instructions string `json:"instructions,omitempty" validate:"max=2000"`
}

type SourceItem struct {
	Id             string             `json:"id"`
	Question       string             `json:"question"`
	Category       string             `json:"category"`
	FinalScore     float64            `json:"final_score"`
	SemanticScore  float64            `json:"semantic_score"`
	ReferenceLinks []ReferenceLinkDTO `json:"reference_links,omitempty"`
}

type ReferenceLinkDTO struct {
	Title string `json:"title"`
	Url   string `json:"url"`
}

type ContextInfo struct {
	SearchMethod    string   `json:"search_method"`
	ContextUsed     bool     `json:"context_used"`
	ContextKeywords []string `json:"context_keywords"`
	ContextStrength int      `json:"context_strength"`
	ContextQuality  float64  `json:"context_quality"`
	RelatedEntities []string `json:"related_entities"`
}

type AnswerResult struct {
	Status           string       `json:"status"` // "success" | "error"
	SessionId        string       `json:"session_id"`
	Response         string       `json:"response"`
	Confidence       float64      `json:"confidence"`
	Method           string       `json:"method"`
	DecisionKind     string       `json:"decision_kind,omitempty"`
	GenerationMethod string       `json:"generation_method,omitempty"`
	Tier             string       `json:"confidence_level,omitempty"`
	MismatchIssues   []string     `json:"mismatch_issues,omitempty"`
	Sources          []SourceItem `json:"sources"`
	ContextInfo      *ContextInfo `json:"context_info,omitempty"`
	ShouldRespond    bool         `json:"should_respond"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
}

type SessionStats struct {
	SessionId         string         `json:"session_id"`
	Exists            bool           `json:"exists"`
	TurnCount         int            `json:"turn_count"`
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	ContextKeywords   []string       `json:"context_keywords"`
	ContextSummary    string         `json:"context_summary"`
	DecisionKinds     map[string]int `json:"decision_kinds"`
	TopEntities       []string       `json:"top_entities"`
	CreatedAt         *time.Time     `json:"created_at,omitempty"`
	LastActivity      *time.Time     `json:"last_activity,omitempty"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	IndexSize       int64  `json:"index_size"`
	IndexBackend    string `json:"index_backend"`
	GenerationReady bool   `json:"generation_ready"`
	NatsConnected   bool   `json:"nats_connected"`
	RedisConnected  bool   `json:"redis_connected"`
	ActiveSessions  int    `json:"active_sessions"`
}
