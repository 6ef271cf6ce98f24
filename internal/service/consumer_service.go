package service

import (
	"context"
	"encoding/json"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService writes every recorded turn to the interaction log
type consumerService struct {
	subscriber     message.Subscriber
	topicName      string
	interactionLog logger.ILogger
	logger         logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	interactionLog logger.ILogger,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber:     subscriber,
		topicName:      topicName,
		interactionLog: interactionLog,
		logger:         log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(msg *message.Message) {
	if msg.Metadata.Get("type") != events.TypeTurnRecorded {
		msg.Ack()
		return
	}

	var turn events.TurnRecorded
	if err := json.Unmarshal(msg.Payload, &turn); err != nil {
		cs.logger.Error("CONSUMER", "Failed to unmarshal turn event", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack() // invalid payloads would loop forever
		return
	}

	cs.interactionLog.Info("INTERACTION", "Turn recorded", map[string]interface{}{
		"session_id":    turn.SessionID,
		"turn_id":       turn.TurnID,
		"query":         turn.Query,
		"response":      turn.Response,
		"decision_kind": turn.DecisionKind,
		"method":        turn.Method,
		"confidence":    turn.Confidence,
		"source_ids":    turn.SourceIDs,
		"entities":      turn.Entities,
		"elapsed_ms":    turn.ElapsedMs,
		"occurred_at":   turn.OccurredAt,
	})
	msg.Ack()
}
