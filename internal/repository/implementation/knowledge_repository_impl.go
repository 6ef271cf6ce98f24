package implementation

import (
	"context"
	"errors"
	"fmt"

	"campus-qa-be/internal/mapper"
	"campus-qa-be/internal/model"
	"campus-qa-be/internal/repository/contract"
	"campus-qa-be/pkg/rag/search"
	"campus-qa-be/pkg/store"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const upsertBatchSize = 100

type KnowledgeRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.KnowledgeEntryMapper
}

func NewKnowledgeRepository(db *gorm.DB) contract.KnowledgeRepository {
	return &KnowledgeRepositoryImpl{
		db:     db,
		mapper: mapper.NewKnowledgeEntryMapper(),
	}
}

// NearestNeighbors returns the k closest entries by cosine similarity.
// pgvector's <=> is cosine distance, so similarity is 1 - distance.
func (r *KnowledgeRepositoryImpl) NearestNeighbors(ctx context.Context, vector []float32, k int) ([]search.Neighbor, error) {
	if k <= 0 {
		k = search.DefaultTopK
	}

	type result struct {
		model.KnowledgeEntry
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)

	err := r.db.WithContext(ctx).
		Table("knowledge_entries").
		Select("knowledge_entries.*, 1 - (embedding_value <=> ?) as similarity", queryVector).
		Where("embedding_value IS NOT NULL").
		Order(gorm.Expr("embedding_value <=> ?", queryVector)).
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", search.ErrIndexUnavailable, err)
	}

	neighbors := make([]search.Neighbor, len(results))
	for i := range results {
		neighbors[i] = search.Neighbor{
			Entry: r.mapper.ToEntry(&results[i].KnowledgeEntry),
			Score: results[i].Similarity,
		}
	}
	return neighbors, nil
}

func (r *KnowledgeRepositoryImpl) Size(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.KnowledgeEntry{}).Count(&count).Error
	return count, err
}

// UpsertBulk writes entries with their vectors, replacing rows with the same id
func (r *KnowledgeRepositoryImpl) UpsertBulk(ctx context.Context, entries []search.IndexedEntry) error {
	models := make([]*model.KnowledgeEntry, 0, len(entries))
	for _, e := range entries {
		m, err := r.mapper.ToModel(e.Entry, e.Vector)
		if err != nil {
			return fmt.Errorf("map entry %s: %w", e.Entry.ID, err)
		}
		models = append(models, m)
	}
	if len(models) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"question", "answer", "category", "reference_key", "reference_links", "embedding_value", "updated_at"}),
		}).
		CreateInBatches(models, upsertBatchSize).Error
}

func (r *KnowledgeRepositoryImpl) FindByID(ctx context.Context, id string) (*store.KnowledgeEntry, error) {
	var m model.KnowledgeEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entry := r.mapper.ToEntry(&m)
	return &entry, nil
}

func (r *KnowledgeRepositoryImpl) DeleteAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.KnowledgeEntry{}).Error
}
