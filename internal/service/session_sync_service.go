package service

import (
	"context"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/events"
	pktNats "campus-qa-be/pkg/nats"
)

// SessionEvictor drops the local copy of a session
type SessionEvictor interface {
	Evict(ctx context.Context, sessionID string) error
}

// EventSubscriber is satisfied by the NATS subscriber
type EventSubscriber interface {
	Subscribe(ctx context.Context, eventType string, handler pktNats.EventHandler) error
}

type ISessionSyncService interface {
	Start(ctx context.Context) error
}

// sessionSyncService keeps the local session cache honest when another
// instance clears a session
type sessionSyncService struct {
	subscriber EventSubscriber
	sessions   SessionEvictor
	instanceID string
	logger     logger.ILogger
}

func NewSessionSyncService(subscriber EventSubscriber, sessions SessionEvictor, instanceID string, log logger.ILogger) ISessionSyncService {
	return &sessionSyncService{
		subscriber: subscriber,
		sessions:   sessions,
		instanceID: instanceID,
		logger:     log,
	}
}

func (s *sessionSyncService) Start(ctx context.Context) error {
	return s.subscriber.Subscribe(ctx, events.TypeSessionCleared, s.handleSessionCleared)
}

func (s *sessionSyncService) handleSessionCleared(ctx context.Context, event events.Event) error {
	base, ok := event.(events.BaseEvent)
	if !ok {
		return nil
	}
	// our own clears were applied before publishing
	if base.String("origin") == s.instanceID {
		return nil
	}

	sessionID := base.String("session_id")
	if sessionID == "" {
		return nil
	}

	s.logger.Info("SESSION", "Evicting session cleared elsewhere", map[string]interface{}{
		"session_id": sessionID,
		"origin":     base.String("origin"),
	})
	return s.sessions.Evict(ctx, sessionID)
}
