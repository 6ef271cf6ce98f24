package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"campus-qa-be/internal/model"
	"campus-qa-be/internal/repository/implementation"
	"campus-qa-be/pkg/database"
	"campus-qa-be/pkg/rag/search"
	"campus-qa-be/pkg/store"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const embeddingDims = 768

func unitVector(axis int) []float32 {
	v := make([]float32, embeddingDims)
	v[axis] = 1
	return v
}

func TestKnowledgeRepository(t *testing.T) {
	// Load .env from root
	err := godotenv.Load("../../.env")
	if err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	gormDB, err := database.NewGormDBFromDSN(dsn, database.Options{})
	require.NoError(t, err)

	require.NoError(t, gormDB.Exec(`CREATE EXTENSION IF NOT EXISTS vector;`).Error)
	require.NoError(t, gormDB.AutoMigrate(&model.KnowledgeEntry{}))

	repo := implementation.NewKnowledgeRepository(gormDB)
	ctx := context.Background()
	require.NoError(t, repo.DeleteAll(ctx))

	entries := []search.IndexedEntry{
		{Entry: store.KnowledgeEntry{
			ID:             "it-1",
			Question:       "Học phí học kỳ này là bao nhiêu?",
			Answer:         "20 triệu đồng.",
			Category:       "Học phí",
			ReferenceLinks: []store.ReferenceLink{{Key: "1", Title: "Quy chế học phí", URL: "https://bdu.edu.vn/hoc-phi.pdf"}},
		}, Vector: unitVector(0)},
		{Entry: store.KnowledgeEntry{ID: "it-2", Question: "Lịch thi cuối kỳ?", Answer: "Xem cổng thông tin."}, Vector: unitVector(1)},
	}

	t.Run("Upsert is idempotent", func(t *testing.T) {
		require.NoError(t, repo.UpsertBulk(ctx, entries))
		require.NoError(t, repo.UpsertBulk(ctx, entries))

		size, err := repo.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), size)
	})

	t.Run("Nearest neighbors ordered by cosine similarity", func(t *testing.T) {
		neighbors, err := repo.NearestNeighbors(ctx, unitVector(0), 2)
		require.NoError(t, err)
		require.Len(t, neighbors, 2)
		assert.Equal(t, "it-1", neighbors[0].Entry.ID)
		assert.InDelta(t, 1.0, neighbors[0].Score, 1e-6)
		assert.Greater(t, neighbors[0].Score, neighbors[1].Score)
	})

	t.Run("Find by id keeps reference links", func(t *testing.T) {
		entry, err := repo.FindByID(ctx, "it-1")
		require.NoError(t, err)
		require.NotNil(t, entry)
		require.Len(t, entry.ReferenceLinks, 1)
		assert.Equal(t, "https://bdu.edu.vn/hoc-phi.pdf", entry.ReferenceLinks[0].URL)

		missing, err := repo.FindByID(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	require.NoError(t, repo.DeleteAll(ctx))
}
