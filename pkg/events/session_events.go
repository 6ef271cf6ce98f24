package events

import "time"

const (
	TypeTurnRecorded   = "turn.recorded"
	TypeSessionCleared = "session.cleared"
)

// TurnRecorded is emitted after a turn is committed to session memory
type TurnRecorded struct {
	SessionID    string    `json:"session_id"`
	TurnID       string    `json:"turn_id"`
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	DecisionKind string    `json:"decision_kind"`
	Method       string    `json:"method"`
	Confidence   float64   `json:"confidence"`
	SourceIDs    []string  `json:"source_ids"`
	Entities     int       `json:"entities"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	Origin       string    `json:"origin"` // instance that recorded the turn
	OccurredAt   time.Time `json:"occurred_at"`
}

func (e TurnRecorded) EventType() string { return TypeTurnRecorded }

func (e TurnRecorded) Timestamp() time.Time { return e.OccurredAt }

func (e TurnRecorded) Payload() map[string]interface{} {
	return map[string]interface{}{
		"type":          TypeTurnRecorded,
		"session_id":    e.SessionID,
		"turn_id":       e.TurnID,
		"query":         e.Query,
		"decision_kind": e.DecisionKind,
		"method":        e.Method,
		"confidence":    e.Confidence,
		"source_ids":    e.SourceIDs,
		"entities":      e.Entities,
		"elapsed_ms":    e.ElapsedMs,
		"origin":        e.Origin,
		"occurred_at":   e.OccurredAt.Format(time.RFC3339Nano),
	}
}

// SessionCleared tells every instance to forget its local copy of a session
type SessionCleared struct {
	SessionID  string    `json:"session_id"`
	Origin     string    `json:"origin"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e SessionCleared) EventType() string { return TypeSessionCleared }

func (e SessionCleared) Timestamp() time.Time { return e.OccurredAt }

func (e SessionCleared) Payload() map[string]interface{} {
	return map[string]interface{}{
		"type":        TypeSessionCleared,
		"session_id":  e.SessionID,
		"origin":      e.Origin,
		"occurred_at": e.OccurredAt.Format(time.RFC3339Nano),
	}
}
