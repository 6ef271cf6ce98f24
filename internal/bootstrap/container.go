package bootstrap

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"campus-qa-be/internal/config"
	"campus-qa-be/internal/controller"
	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/internal/repository/implementation"
	"campus-qa-be/internal/repository/memory"
	"campus-qa-be/internal/service"
	"campus-qa-be/pkg/embedding"
	"campus-qa-be/pkg/embedding/jina"
	"campus-qa-be/pkg/llm/factory"
	"campus-qa-be/pkg/rag/decision"
	"campus-qa-be/pkg/rag/external"
	ragMemory "campus-qa-be/pkg/rag/memory"
	"campus-qa-be/pkg/rag/prompt"
	"campus-qa-be/pkg/rag/rerank"
	"campus-qa-be/pkg/rag/response"
	"campus-qa-be/pkg/rag/search"
	"campus-qa-be/pkg/rag/session"

	pktNats "campus-qa-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	IndexBackendPostgres = "postgres"
	IndexBackendMemory   = "memory"

	embedWorkers = 8
)

type Container struct {
	// Controllers
	ChatbotController controller.IChatbotController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	SessionSync     service.ISessionSyncService // nil without NATS

	Logger logger.ILogger

	closers []func()
}

// Close releases the connections opened by NewContainer
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// NewContainer wires the pipeline. db may be nil when the memory index backend is used.
func NewContainer(db *gorm.DB, cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	container := &Container{Logger: sysLogger}

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	container.closers = append(container.closers, func() { _ = pubSub.Close() })

	// 3. Model Providers
	embeddingProvider := NewEmbeddingProvider(cfg)

	llmBaseURL := cfg.Ai.LLMBaseURL
	if llmBaseURL == "" {
		llmBaseURL = cfg.Ai.OllamaBaseURL
	}
	llmProvider, err := factory.NewLLMProvider(factory.Config{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL,
		APIKey:   cfg.Keys.HuggingFace,
		Timeout:  time.Duration(cfg.Pipeline.GenerationTimeoutSecs) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize LLM provider: %w", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)

	// 4. Knowledge Index
	index, err := newIndex(db, cfg, embeddingProvider, sysLogger)
	if err != nil {
		return nil, err
	}
	links := loadLinks(cfg.Pipeline.LinkCSVPath, sysLogger)

	retriever := search.NewRetriever(embeddingProvider, index, links, search.Config{
		TopK:    cfg.Pipeline.RetrievalTopK,
		Timeout: time.Duration(cfg.Pipeline.RetrievalTimeoutMs) * time.Millisecond,
	}, sysLogger)
	reranker := rerank.NewReranker(rerank.DefaultConfig(), rerank.DefaultRules(), rerank.LexicalScorer{}, sysLogger)
	engine := decision.NewEngine(decision.DefaultVocabulary(), sysLogger)
	conversationMemory := ragMemory.NewMemory(ragMemory.NewExtractor(), cfg.Pipeline.MaxTurns, sysLogger)

	// 5. Session Storage
	sessionTTL := time.Duration(cfg.Pipeline.SessionTTLMinutes) * time.Minute
	sessionRepo := memory.NewSessionRepository(sessionTTL)

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	container.closers = append(container.closers, func() { _ = rdb.Close() })

	var snapshots session.Snapshots
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v (sessions stay in process)", err)
	} else {
		snapshots = implementation.NewSessionSnapshotRepository(rdb, sessionTTL)
	}
	sessions := session.NewManager(sessionRepo, snapshots, sysLogger)

	// 6. Generation
	personalData := external.NewHTTPClient(
		cfg.External.PersonalDataBaseURL,
		cfg.Auth.JwtSecret,
		time.Duration(cfg.External.TimeoutSeconds)*time.Second,
		sysLogger,
	)
	generator := response.NewGenerator(llmProvider, prompt.NewBuilder(), personalData, cfg.Pipeline.GenerationMaxTries, sysLogger)

	// 7. NATS
	var bus service.EventPublisher
	var natsPub *pktNats.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err = pktNats.NewPublisher(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
		} else {
			bus = natsPub
			container.closers = append(container.closers, natsPub.Close)
		}

		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
		} else {
			container.SessionSync = service.NewSessionSyncService(natsSub, sessions, cfg.App.InstanceID, sysLogger)
			container.closers = append(container.closers, natsSub.Close)
		}
	}

	// 8. Services
	publisherService := service.NewPublisherService(cfg.App.TurnTopic, pubSub)
	interactionLogger := logger.NewIsolatedLogger(cfg.App.InteractionLogPath)
	container.ConsumerService = service.NewConsumerService(
		pubSub,
		cfg.App.TurnTopic,
		interactionLogger,
		sysLogger,
	)

	backend := cfg.Pipeline.IndexBackend
	chatbotService := service.NewChatbotService(service.ChatbotDependencies{
		Retriever:  retriever,
		Reranker:   reranker,
		Engine:     engine,
		Memory:     conversationMemory,
		Sessions:   sessions,
		Generator:  generator,
		Publisher:  publisherService,
		Bus:        bus,
		InstanceID: cfg.App.InstanceID,
		Checks: service.HealthChecks{
			IndexBackend:  backend,
			NatsConnected: natsPub.IsConnected,
			RedisConnected: func(ctx context.Context) bool {
				return snapshots != nil && rdb.Ping(ctx).Err() == nil
			},
			ActiveSessions: sessionRepo.Count,
		},
		Logger: sysLogger,
	})

	// 9. Controllers
	container.ChatbotController = controller.NewChatbotController(chatbotService, cfg.Auth.JwtSecret)
	return container, nil
}

// NewEmbeddingProvider picks the embedder named by EMBEDDING_PROVIDER
func NewEmbeddingProvider(cfg *config.Config) embedding.EmbeddingProvider {
	switch cfg.Ai.EmbeddingProvider {
	case "gemini":
		log.Printf("[INFO] Using Embedding Provider: GEMINI")
		return embedding.NewGeminiProvider(cfg.Keys.GoogleGemini)
	case "jina":
		log.Printf("[INFO] Using Embedding Provider: JINA")
		return jina.NewJinaProvider(cfg.Keys.Jina, "")
	}
	log.Printf("[INFO] Using Embedding Provider: OLLAMA (%s)", cfg.Ai.OllamaModel)
	return embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.OllamaModel)
}

// newIndex returns the pgvector table, or an in-process index built from the knowledge CSV
func newIndex(db *gorm.DB, cfg *config.Config, provider embedding.EmbeddingProvider, log logger.ILogger) (search.Index, error) {
	switch cfg.Pipeline.IndexBackend {
	case IndexBackendPostgres, "":
		if db == nil {
			return nil, fmt.Errorf("index backend %q needs a database connection", IndexBackendPostgres)
		}
		return implementation.NewKnowledgeRepository(db), nil

	case IndexBackendMemory:
		f, err := os.Open(cfg.Pipeline.KnowledgeCSVPath)
		if err != nil {
			return nil, fmt.Errorf("open knowledge csv: %w", err)
		}
		defer f.Close()

		entries, err := search.LoadKnowledgeCSV(f)
		if err != nil {
			return nil, fmt.Errorf("load knowledge csv: %w", err)
		}
		indexed, err := search.EmbedEntries(context.Background(), provider, entries, embedWorkers, log)
		if err != nil {
			return nil, fmt.Errorf("embed knowledge entries: %w", err)
		}
		return search.NewMemoryIndex(indexed), nil

	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.Pipeline.IndexBackend)
	}
}

// loadLinks reads the reference link table; answers just go without links when it is missing
func loadLinks(path string, log logger.ILogger) search.LinkTable {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("INDEX", "Reference link table unavailable", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return search.LinkTable{}
	}
	defer f.Close()

	links, err := search.LoadLinkCSV(f)
	if err != nil {
		log.Warn("INDEX", "Reference link table unreadable", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return search.LinkTable{}
	}
	return links
}
