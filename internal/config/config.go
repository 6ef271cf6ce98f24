package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Keys     APIKeys
	Ai       AIConfig
	Pipeline PipelineConfig
	Auth     AuthConfig
	External ExternalConfig
	Otel     OtelConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	InteractionLogPath string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	TurnTopic          string // watermill topic for recorded turns
	InstanceID         string
}

type DatabaseConfig struct {
	Connection string
}

type APIKeys struct {
	GoogleGemini string
	HuggingFace  string
	Jina         string
}

type AIConfig struct {
	EmbeddingProvider string // "gemini", "jina" or "ollama"
	OllamaBaseURL     string
	OllamaModel       string
	LLMProvider       string // "ollama"
	LLMModel          string // e.g. "llama3", "qwen2.5"
	LLMBaseURL        string // empty falls back to OllamaBaseURL
}

type PipelineConfig struct {
	IndexBackend          string // "postgres" | "memory"
	KnowledgeCSVPath      string // source for the memory backend
	LinkCSVPath           string
	RetrievalTopK         int
	RetrievalTimeoutMs    int
	SessionTTLMinutes     int
	MaxTurns              int
	GenerationMaxTries    int
	GenerationTimeoutSecs int
}

type AuthConfig struct {
	JwtSecret string // optional; empty means tokens are passed through unchecked
}

type ExternalConfig struct {
	PersonalDataBaseURL string
	TimeoutSeconds      int
}

type OtelConfig struct {
	Enabled     bool
	Endpoint    string // host:port of the OTLP/HTTP collector
	ServiceName string
	Insecure    bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			InteractionLogPath: getEnv("INTERACTION_LOG_PATH", "logs/interactions.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			TurnTopic:          getEnv("TURN_RECORDED_TOPIC", "TURN_RECORDED"),
			InstanceID:         getEnv("INSTANCE_ID", defaultInstanceID()),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			HuggingFace:  getEnv("HUGGINGFACE_API_KEY", ""),
			Jina:         getEnv("JINA_API_KEY", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			LLMProvider:       getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:          getEnv("LLM_MODEL", "qwen2.5"),
			LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		},
		Pipeline: PipelineConfig{
			IndexBackend:          getEnv("INDEX_BACKEND", "postgres"),
			KnowledgeCSVPath:      getEnv("KNOWLEDGE_CSV_PATH", "data/QA.csv"),
			LinkCSVPath:           getEnv("LINK_CSV_PATH", "data/link.csv"),
			RetrievalTopK:         getEnvAsInt("RETRIEVAL_TOP_K", 20),
			RetrievalTimeoutMs:    getEnvAsInt("RETRIEVAL_TIMEOUT_MS", 3000),
			SessionTTLMinutes:     getEnvAsInt("SESSION_TTL_MINUTES", 60),
			MaxTurns:              getEnvAsInt("SESSION_MAX_TURNS", 30),
			GenerationMaxTries:    getEnvAsInt("GENERATION_MAX_TRIES", 3),
			GenerationTimeoutSecs: getEnvAsInt("GENERATION_TIMEOUT_SECONDS", 60),
		},
		Auth: AuthConfig{
			JwtSecret: getEnv("JWT_SECRET", ""),
		},
		External: ExternalConfig{
			PersonalDataBaseURL: getEnv("PERSONAL_DATA_BASE_URL", ""),
			TimeoutSeconds:      getEnvAsInt("PERSONAL_DATA_TIMEOUT_SECONDS", 10),
		},
		Otel: OtelConfig{
			Enabled:     getEnvAsBool("OTEL_ENABLED", false),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "campus-qa-backend"),
			Insecure:    getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// defaultInstanceID tells instances apart on the shared event stream
func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "campus-qa"
}
