package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type KnowledgeEntry struct {
	Id             string          `gorm:"type:varchar(64);primaryKey"`
	Question       string          `gorm:"type:text;not null"`
	Answer         string          `gorm:"type:text;not null"`
	Category       string          `gorm:"type:varchar(255);default:'Chung'"`
	ReferenceKey   string          `gorm:"type:varchar(255)"`
	ReferenceLinks datatypes.JSON  `gorm:"type:jsonb"`
	EmbeddingValue pgvector.Vector `gorm:"type:vector(768)"` // nomic-embed-text and text-embedding-004 both use 768 dimensions
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (KnowledgeEntry) TableName() string {
	return "knowledge_entries"
}
