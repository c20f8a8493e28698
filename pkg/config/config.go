package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EngineChromem  = "chromem"
	EnginePostgres = "postgres"

	RetrievalVector = "vector"
	RetrievalHybrid = "hybrid"
)

// Config holds everything the pipeline, the CLI and the web server need.
// It is populated from the environment (and an optional .env file).
type Config struct {
	// Azure OpenAI
	AzureEndpoint            string
	AzureAPIKey              string
	AzureAPIVersion          string
	AzureDeploymentChat      string
	AzureDeploymentEmbedding string

	// Plain OpenAI-compatible API, used when no Azure endpoint is set.
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// LangSmith
	LangSmithTracing  bool
	LangSmithProject  string
	LangSmithAPIKey   string
	LangSmithEndpoint string

	// OTLP, used when LangSmith is off
	OTLPEndpoint    string
	OTLPProtocol    string
	OTelServiceName string
	// TracesExporter set to "console" prints spans to stdout.
	TracesExporter string

	ProjectRoot string
	DocsDir     string
	DataDir     string

	ChunkSize    int
	ChunkOverlap int
	TopK         int

	VectorEngine  string
	DatabaseURL   string
	RetrievalMode string
	BM25Weight    float64
	VectorWeight  float64

	// GitPrivateKey is a base64 encoded SSH key for cloning git sources.
	GitPrivateKey string

	ListenAddress string
}

// Load reads the configuration. The given environment files, or an
// optional .env in the working directory, are loaded first and never
// override variables that are already set. Explicit files must exist.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load environment file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	root := env("PROJECT_ROOT", "")
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}

	dataDir := env("DATA_DIR", filepath.Join(root, "data"))

	cfg := &Config{
		AzureEndpoint:            env("AZURE_OPENAI_ENDPOINT", ""),
		AzureAPIKey:              env("AZURE_OPENAI_API_KEY", ""),
		AzureAPIVersion:          env("AZURE_OPENAI_API_VERSION", "2024-08-01-preview"),
		AzureDeploymentChat:      env("AZURE_OPENAI_DEPLOYMENT_CHAT", "gpt-4o"),
		AzureDeploymentEmbedding: env("AZURE_OPENAI_DEPLOYMENT_EMBEDDING", "text-embedding-3-small"),

		OpenAIAPIKey:  env("OPENAI_API_KEY", ""),
		OpenAIBaseURL: env("OPENAI_API_BASE_URL", ""),

		LangSmithTracing:  envBool("LANGCHAIN_TRACING_V2", false),
		LangSmithProject:  env("LANGCHAIN_PROJECT", "llm-observability-demo"),
		LangSmithAPIKey:   env("LANGCHAIN_API_KEY", ""),
		LangSmithEndpoint: env("LANGCHAIN_ENDPOINT", "https://api.smith.langchain.com"),

		OTLPEndpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPProtocol:    strings.ToLower(env("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OTelServiceName: env("OTEL_SERVICE_NAME", "llm-observability-demo"),
		TracesExporter:  strings.ToLower(env("OTEL_TRACES_EXPORTER", "")),

		ProjectRoot: root,
		DocsDir:     env("DOCS_DIR", filepath.Join(root, "docs")),
		DataDir:     dataDir,

		ChunkSize:    envInt("CHUNK_SIZE", 800),
		ChunkOverlap: envInt("CHUNK_OVERLAP", 100),
		TopK:         envInt("TOP_K", 4),

		VectorEngine:  strings.ToLower(env("VECTOR_ENGINE", EngineChromem)),
		DatabaseURL:   env("DATABASE_URL", ""),
		RetrievalMode: strings.ToLower(env("RETRIEVAL_MODE", RetrievalVector)),
		BM25Weight:    envFloat("HYBRID_SEARCH_BM25_WEIGHT", 0.5),
		VectorWeight:  envFloat("HYBRID_SEARCH_VECTOR_WEIGHT", 0.5),

		GitPrivateKey: env("GIT_PRIVATE_KEY", ""),

		ListenAddress: env("LISTEN_ADDRESS", "0.0.0.0:8000"),
	}

	return cfg, nil
}

// Validate checks that the configuration can drive a pipeline.
func (c *Config) Validate() error {
	if c.AzureEndpoint == "" && c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		return fmt.Errorf("either AZURE_OPENAI_ENDPOINT or OPENAI_API_KEY/OPENAI_API_BASE_URL is required")
	}
	if c.AzureEndpoint != "" && c.AzureAPIKey == "" {
		return fmt.Errorf("AZURE_OPENAI_API_KEY is required when AZURE_OPENAI_ENDPOINT is set")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive, got %d", c.TopK)
	}

	switch c.VectorEngine {
	case EngineChromem:
	case EnginePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres engine")
		}
	default:
		return fmt.Errorf("VECTOR_ENGINE must be one of: %s, %s; got %s", EngineChromem, EnginePostgres, c.VectorEngine)
	}

	switch c.RetrievalMode {
	case RetrievalVector, RetrievalHybrid:
	default:
		return fmt.Errorf("RETRIEVAL_MODE must be one of: %s, %s; got %s", RetrievalVector, RetrievalHybrid, c.RetrievalMode)
	}

	return nil
}

// Azure reports whether the Azure OpenAI endpoint is configured.
func (c *Config) Azure() bool {
	return c.AzureEndpoint != ""
}

func (c *Config) ChromaDir() string {
	return filepath.Join(c.DataDir, "chroma")
}

func (c *Config) RunLogPath() string {
	return filepath.Join(c.DataDir, "runs.jsonl")
}

func (c *Config) EvalDatasetPath() string {
	return filepath.Join(c.DataDir, "eval_dataset.json")
}

func (c *Config) ManifestPath() string {
	return filepath.Join(c.DataDir, "manifest.json")
}

func env(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func envFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(env(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func envBool(key string, defaultValue bool) bool {
	switch strings.ToLower(env(key, "")) {
	case "true", "1", "yes":
		return true
	case "":
		return defaultValue
	}
	return false
}
