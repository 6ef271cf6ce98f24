package mapper

import (
	"encoding/json"

	"campus-qa-be/internal/model"
	"campus-qa-be/pkg/store"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type KnowledgeEntryMapper struct{}

func NewKnowledgeEntryMapper() *KnowledgeEntryMapper {
	return &KnowledgeEntryMapper{}
}

func (m *KnowledgeEntryMapper) ToEntry(e *model.KnowledgeEntry) store.KnowledgeEntry {
	links := []store.ReferenceLink{}
	if len(e.ReferenceLinks) > 0 {
		// a malformed column only loses the links, not the entry
		_ = json.Unmarshal(e.ReferenceLinks, &links)
	}
	return store.KnowledgeEntry{
		ID:             e.Id,
		Question:       e.Question,
		Answer:         e.Answer,
		Category:       e.Category,
		ReferenceKey:   e.ReferenceKey,
		ReferenceLinks: links,
	}
}

func (m *KnowledgeEntryMapper) ToModel(entry store.KnowledgeEntry, vector []float32) (*model.KnowledgeEntry, error) {
	links := entry.ReferenceLinks
	if links == nil {
		links = []store.ReferenceLink{}
	}
	raw, err := json.Marshal(links)
	if err != nil {
		return nil, err
	}
	return &model.KnowledgeEntry{
		Id:             entry.ID,
		Question:       entry.Question,
		Answer:         entry.Answer,
		Category:       entry.Category,
		ReferenceKey:   entry.ReferenceKey,
		ReferenceLinks: datatypes.JSON(raw),
		EmbeddingValue: pgvector.NewVector(vector),
	}, nil
}
