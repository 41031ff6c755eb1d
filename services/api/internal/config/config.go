package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working dir.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	LogLevel                string   `yaml:"logLevel"`
	DatabaseURL             string   `yaml:"databaseURL"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	JWKSURL                 string   `yaml:"jwksURL"`
	JWTIssuer               string   `yaml:"jwtIssuer"`
	JWTAudience             string   `yaml:"jwtAudience"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	QueueStream             string   `yaml:"queueStream"`
	QueueGroup              string   `yaml:"queueGroup"`
	Provider                string   `yaml:"provider"`
	GeminiAPIKey            string   `yaml:"geminiAPIKey"`
	OllamaBaseURL           string   `yaml:"ollamaBaseURL"`
	OpenAIBaseURL           string   `yaml:"openaiBaseURL"`
	OpenAIAPIKey            string   `yaml:"openaiAPIKey"`
	GenerationModel         string   `yaml:"generationModel"`
	EmbeddingModel          string   `yaml:"embeddingModel"`
	EmbeddingDimensions     int      `yaml:"embeddingDimensions"`
	TopK                    int      `yaml:"topK"`
	HistoryLimit            int      `yaml:"historyLimit"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	AllowedExtensions       []string `yaml:"allowedExtensions"`
	ChatRateLimitPerMinute  int      `yaml:"chatRateLimitPerMinute"`
	UploadRateLimitPerHour  int      `yaml:"uploadRateLimitPerHour"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("API_JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIAPIKey = v
	}
	if v := os.Getenv("API_GENERATION_MODEL"); v != "" {
		cfg.GenerationModel = v
	}
	if v := os.Getenv("API_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("API_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	// Normalized here so the provider switches downstream see one spelling.
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider == "" {
		cfg.Provider = "gemini"
	}
	if cfg.QueueStream == "" {
		cfg.QueueStream = "paperchat:ingest"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "ingest-workers"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 6
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf", ".epub", ".txt"}
	}
	if cfg.ChatRateLimitPerMinute <= 0 {
		cfg.ChatRateLimitPerMinute = 30
	}
	if cfg.UploadRateLimitPerHour <= 0 {
		cfg.UploadRateLimitPerHour = 20
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or API_JWKS_URL)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required (set in config.yaml)")
	}
	if cfg.GenerationModel == "" {
		return errors.New("config: generationModel is required (set in config.yaml)")
	}
	if cfg.EmbeddingModel == "" {
		return errors.New("config: embeddingModel is required (set in config.yaml)")
	}
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return errors.New("config: geminiAPIKey is required when provider is gemini (set GEMINI_API_KEY)")
		}
	case "ollama":
		if cfg.EmbeddingDimensions <= 0 {
			return errors.New("config: embeddingDimensions is required when provider is ollama")
		}
	case "openai":
		// OpenAI-compatible endpoints cover generation only; embeddings
		// come from Gemini or Ollama.
		if cfg.OpenAIBaseURL == "" {
			return errors.New("config: openaiBaseURL is required when provider is openai (set OPENAI_BASE_URL)")
		}
		if cfg.GeminiAPIKey == "" && cfg.EmbeddingDimensions <= 0 {
			return errors.New("config: provider openai needs geminiAPIKey or embeddingDimensions for embeddings")
		}
	default:
		return fmt.Errorf("config: unknown provider %q (want gemini, ollama, or openai)", cfg.Provider)
	}
	return nil
}
