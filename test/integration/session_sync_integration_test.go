package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/internal/repository/implementation"
	"campus-qa-be/pkg/events"
	pktNats "campus-qa-be/pkg/nats"
	"campus-qa-be/pkg/store"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionSnapshotRoundTrip(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("Skipping integration test: REDIS_URL not set")
	}
	opt, err := redis.ParseURL(redisURL)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping integration test: Redis unreachable: %v", err)
	}

	repo := implementation.NewSessionSnapshotRepository(rdb, time.Minute)
	mem := store.NewSessionMemory("it-session", time.Now())
	mem.Turns = append(mem.Turns, store.Turn{ID: "t-1", Query: "Học phí?", Response: "20 triệu.", Timestamp: time.Now()})

	require.NoError(t, repo.Save(ctx, mem))
	loaded, err := repo.Load(ctx, "it-session")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Turns, 1)
	assert.Equal(t, "Học phí?", loaded.Turns[0].Query)

	require.NoError(t, repo.Delete(ctx, "it-session"))
	gone, err := repo.Load(ctx, "it-session")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSessionClearedCrossesInstances(t *testing.T) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		t.Skip("Skipping integration test: NATS_URL not set")
	}
	log := logger.NewNopLogger()

	pub, err := pktNats.NewPublisher(natsURL, log)
	require.NoError(t, err)
	defer pub.Close()
	sub, err := pktNats.NewSubscriber(natsURL, log)
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var received []events.BaseEvent
	require.NoError(t, sub.Subscribe(ctx, events.TypeSessionCleared, func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.(events.BaseEvent))
		return nil
	}))

	require.NoError(t, pub.Publish(ctx, events.SessionCleared{
		SessionID:  "it-session",
		Origin:     "instance-b",
		OccurredAt: time.Now(),
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) > 0
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "it-session", received[0].String("session_id"))
	assert.Equal(t, "instance-b", received[0].String("origin"))
	assert.False(t, received[0].Timestamp().IsZero())
}
