package main

import (
	"context"
	"flag"
	"log"
	"os"

	"campus-qa-be/internal/bootstrap"
	"campus-qa-be/internal/config"
	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/internal/repository/implementation"
	"campus-qa-be/pkg/database"
	"campus-qa-be/pkg/rag/search"
)

// Loads the knowledge CSV, embeds every question and upserts it into the pgvector table.
func main() {
	csvPath := flag.String("csv", "", "knowledge CSV (defaults to KNOWLEDGE_CSV_PATH)")
	workers := flag.Int("workers", 8, "concurrent embedding calls")
	reset := flag.Bool("reset", false, "delete existing entries before seeding")
	flag.Parse()

	cfg := config.Load()
	if *csvPath == "" {
		*csvPath = cfg.Pipeline.KnowledgeCSVPath
	}
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer sysLogger.Sync()

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.Options{})
	if err != nil {
		log.Fatalf("Error: Failed to connect to database: %v", err)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		log.Fatalf("Error: Failed to open %s: %v", *csvPath, err)
	}
	defer f.Close()

	entries, err := search.LoadKnowledgeCSV(f)
	if err != nil {
		log.Fatalf("Error: Failed to read knowledge CSV: %v", err)
	}
	log.Printf("Loaded %d knowledge entries from %s", len(entries), *csvPath)

	provider := bootstrap.NewEmbeddingProvider(cfg)

	ctx := context.Background()
	indexed, err := search.EmbedEntries(ctx, provider, entries, *workers, sysLogger)
	if err != nil {
		log.Fatalf("Error: Failed to embed entries: %v", err)
	}

	repo := implementation.NewKnowledgeRepository(db)
	if *reset {
		if err := repo.DeleteAll(ctx); err != nil {
			log.Fatalf("Error: Failed to clear knowledge entries: %v", err)
		}
	}
	if err := repo.UpsertBulk(ctx, indexed); err != nil {
		log.Fatalf("Error: Failed to upsert knowledge entries: %v", err)
	}

	size, _ := repo.Size(ctx)
	log.Printf("✅ Seeding completed: %d entries in index", size)
}
