// Package config centralizes how DocChat reads its settings. Values come from
// an optional YAML file first and environment variables second, so a deploy
// can ship a file and still override single keys per environment.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the server, the ingestion
// worker and the client CLI.
type Config struct {
	Address string `yaml:"address"`
	// BaseURL is where clients reach the server.
	BaseURL string `yaml:"base_url"`

	MaxFileSize   int64    `yaml:"max_file_bytes"`
	AllowedTypes  []string `yaml:"allowed_types"`
	IngestWorkers int      `yaml:"ingest_workers"`
	ChunkSize     int      `yaml:"chunk_size"`
	ChunkOverlap  int      `yaml:"chunk_overlap"`
	TopK          int      `yaml:"top_k"`

	Embedder        string        `yaml:"embedder"`
	EmbedModel      string        `yaml:"embed_model"`
	EmbedRPS        float64       `yaml:"embed_rps"`
	Generator       string        `yaml:"generator"`
	LLMModel        string        `yaml:"llm_model"`
	OllamaURL       string        `yaml:"ollama_url"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`

	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"database_url"`

	Index            string `yaml:"index"`
	SQLitePath       string `yaml:"sqlite_path"`
	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`
	QdrantAPIKey     string `yaml:"qdrant_api_key"`

	Blobs       string `yaml:"blobs"`
	UploadDir   string `yaml:"upload_dir"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
	S3Region    string `yaml:"s3_region"`
	RawBucket   string `yaml:"raw_bucket"`

	Dispatcher    string `yaml:"dispatcher"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	SigningSecret string        `yaml:"signing_secret"`
	SignedURLTTL  time.Duration `yaml:"signed_url_ttl"`
}

// Backend names accepted by the selector settings.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendQdrant   = "qdrant"
	BackendLocal    = "local"
	BackendMinio    = "minio"
	BackendAsynq    = "asynq"
	BackendOllama   = "ollama"
	BackendOpenAI   = "openai"
	BackendHashing  = "hashing"
)

const (
	defaultAddress         = ":8000"
	DefaultBaseURL         = "http://localhost:8000"
	// 25 << 20 equals 25 * 2^20 bytes.
	defaultMaxFileSize     = 25 << 20
	defaultAllowedTypes    = "application/pdf,text/plain"
	defaultWorkerCount     = 2
	defaultChunkSize       = 1000
	defaultChunkOverlap    = 200
	defaultTopK            = 5
	defaultOllamaURL       = "http://localhost:11434"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultUpstreamTimeout = 120 * time.Second
	defaultSQLitePath      = "docchat.db"
	defaultCollection      = "docchat_chunks"
	defaultRawBucket       = "docchat-uploads"
	defaultSignedTTL       = 5 * time.Minute
)

// Models used when none is configured, keyed by backend. The hashing
// embedder takes no model.
var (
	defaultEmbedModels = map[string]string{
		BackendOllama: "mxbai-embed-large",
		BackendOpenAI: "text-embedding-3-small",
	}
	defaultLLMModels = map[string]string{
		BackendOllama: "llama3.2",
		BackendOpenAI: "gpt-4o-mini",
	}
)

// Default returns the configuration used when neither a file nor environment
// variables say otherwise.
func Default() *Config {
	return &Config{
		Address:          defaultAddress,
		BaseURL:          DefaultBaseURL,
		MaxFileSize:      defaultMaxFileSize,
		AllowedTypes:     splitList(defaultAllowedTypes),
		IngestWorkers:    defaultWorkerCount,
		ChunkSize:        defaultChunkSize,
		ChunkOverlap:     defaultChunkOverlap,
		TopK:             defaultTopK,
		Embedder:         BackendOllama,
		Generator:        BackendOllama,
		OllamaURL:        defaultOllamaURL,
		OpenAIBaseURL:    defaultOpenAIBaseURL,
		UpstreamTimeout:  defaultUpstreamTimeout,
		Store:            BackendMemory,
		Index:            BackendMemory,
		SQLitePath:       defaultSQLitePath,
		QdrantURL:        "http://localhost:6333",
		QdrantCollection: defaultCollection,
		Blobs:            BackendLocal,
		UploadDir:        defaultUploadDir(),
		S3Endpoint:       "localhost:9000",
		S3Region:         "us-east-1",
		RawBucket:        defaultRawBucket,
		Dispatcher:       BackendLocal,
		RedisAddr:        "localhost:6379",
		SignedURLTTL:     defaultSignedTTL,
	}
}

// Load reads the YAML file named by DOCCHAT_CONFIG (if set), then applies
// environment overrides and validates the result.
func Load() (*Config, error) {
	cfg := Default()
	if path := readEnv("DOCCHAT_CONFIG", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Address = readEnv("DOCCHAT_ADDRESS", c.Address)
	c.BaseURL = readEnv("DOCCHAT_BASE_URL", c.BaseURL)
	c.MaxFileSize = parseInt64("DOCCHAT_MAX_FILE_BYTES", c.MaxFileSize)
	c.AllowedTypes = parseList("DOCCHAT_ALLOWED_TYPES", c.AllowedTypes)
	c.IngestWorkers = parseInt("DOCCHAT_WORKERS", c.IngestWorkers)
	c.ChunkSize = parseInt("DOCCHAT_CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = parseInt("DOCCHAT_CHUNK_OVERLAP", c.ChunkOverlap)
	c.TopK = parseInt("DOCCHAT_TOP_K", c.TopK)

	c.Embedder = readEnv("DOCCHAT_EMBEDDER", c.Embedder)
	c.EmbedModel = readEnv("DOCCHAT_EMBED_MODEL", c.EmbedModel)
	c.EmbedRPS = parseFloat("DOCCHAT_EMBED_RPS", c.EmbedRPS)
	c.Generator = readEnv("DOCCHAT_GENERATOR", c.Generator)
	c.LLMModel = readEnv("DOCCHAT_LLM_MODEL", c.LLMModel)
	c.OllamaURL = readEnv("OLLAMA_HOST", c.OllamaURL)
	c.OpenAIBaseURL = readEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIAPIKey = readEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.UpstreamTimeout = parseDuration("DOCCHAT_UPSTREAM_TIMEOUT", c.UpstreamTimeout)

	c.Store = readEnv("DOCCHAT_STORE", c.Store)
	c.DatabaseURL = readEnv("DATABASE_URL", c.DatabaseURL)

	c.Index = readEnv("DOCCHAT_INDEX", c.Index)
	c.SQLitePath = readEnv("DOCCHAT_SQLITE_PATH", c.SQLitePath)
	c.QdrantURL = readEnv("QDRANT_URL", c.QdrantURL)
	c.QdrantCollection = readEnv("QDRANT_COLLECTION", c.QdrantCollection)
	c.QdrantAPIKey = readEnv("QDRANT_API_KEY", c.QdrantAPIKey)

	c.Blobs = readEnv("DOCCHAT_BLOBS", c.Blobs)
	c.UploadDir = readEnv("DOCCHAT_UPLOAD_DIR", c.UploadDir)
	c.S3Endpoint = readEnv("S3_ENDPOINT", c.S3Endpoint)
	c.S3AccessKey = readEnv("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = readEnv("S3_SECRET_KEY", c.S3SecretKey)
	c.S3UseSSL = parseBool("S3_USE_SSL", c.S3UseSSL)
	c.S3Region = readEnv("S3_REGION", c.S3Region)
	c.RawBucket = readEnv("S3_RAW_BUCKET", c.RawBucket)

	c.Dispatcher = readEnv("DOCCHAT_DISPATCHER", c.Dispatcher)
	c.RedisAddr = readEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = readEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = parseInt("REDIS_DB", c.RedisDB)

	c.SigningSecret = readEnv("DOCCHAT_SIGNING_SECRET", c.SigningSecret)
	c.SignedURLTTL = parseDuration("DOCCHAT_SIGNED_TTL", c.SignedURLTTL)
}

// normalize replaces nonsensical numeric values with defaults, the way the
// env helpers ignore unparsable input. Unset models get the default of the
// selected backend.
func (c *Config) normalize() {
	if c.EmbedModel == "" {
		c.EmbedModel = defaultEmbedModels[c.Embedder]
	}
	if c.LLMModel == "" {
		c.LLMModel = defaultLLMModels[c.Generator]
	}
	if c.IngestWorkers <= 0 {
		c.IngestWorkers = defaultWorkerCount
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 0
	}
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = defaultSignedTTL
	}
	if c.SigningSecret == "" {
		c.SigningSecret = randomSecret()
	}
	for i, t := range c.AllowedTypes {
		c.AllowedTypes[i] = strings.ToLower(strings.TrimSpace(t))
	}
}

// Validate checks backend selectors and the combinations that cannot work.
// The asynq dispatcher runs ingestion in another process, so every store the
// worker touches has to be shared.
func (c *Config) Validate() error {
	checks := []struct {
		name, value string
		allowed     []string
	}{
		{"store", c.Store, []string{BackendMemory, BackendPostgres}},
		{"index", c.Index, []string{BackendMemory, BackendSQLite, BackendQdrant}},
		{"blobs", c.Blobs, []string{BackendLocal, BackendMinio}},
		{"dispatcher", c.Dispatcher, []string{BackendLocal, BackendAsynq}},
		{"embedder", c.Embedder, []string{BackendOllama, BackendOpenAI, BackendHashing}},
		{"generator", c.Generator, []string{BackendOllama, BackendOpenAI}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("config: unknown %s %q (want one of %s)", check.name, check.value, strings.Join(check.allowed, ", "))
		}
	}
	if c.Store == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("config: store %q requires DATABASE_URL", c.Store)
	}
	if c.Dispatcher == BackendAsynq {
		if c.Store == BackendMemory || c.Index == BackendMemory {
			return fmt.Errorf("config: dispatcher %q requires a shared store and index", c.Dispatcher)
		}
	}
	if (c.Embedder == BackendOpenAI || c.Generator == BackendOpenAI) && c.OpenAIAPIKey == "" {
		return fmt.Errorf("config: openai backend requires OPENAI_API_KEY")
	}
	return nil
}

// AllowsType reports whether contentType (parameters ignored) is accepted for
// upload.
func (c *Config) AllowsType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return contains(c.AllowedTypes, strings.ToLower(strings.TrimSpace(mediaType)))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return splitList(v)
}

func splitList(val string) []string {
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	// Invalid input is ignored and the default kept.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func defaultUploadDir() string {
	return os.TempDir() + string(os.PathSeparator) + "docchat"
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return hex.EncodeToString([]byte("fallbacksecret"))
	}
	return hex.EncodeToString(buf)
}
