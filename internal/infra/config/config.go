package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env        string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	ProviderURL       string
	ProviderAPIKey    string
	PrimaryModel      string
	FallbackModel     string
	EmbeddingModel    string
	EmbeddingDim      int
	RequestsPerMinute int

	InheritanceURL     string
	InheritanceTimeout int
	ProviderName       string

	PromptVersion   string
	AnswerMaxTokens int
	ModelTimeout    int
	BatchSize       int

	OTelEnabled  bool
	OTelEndpoint string
}

func Load() *Config {
	return &Config{
		Env:        getEnv("ENV", "development"),
		DBHost:     getEnv("DB_HOST", "evidence-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "evidence_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "evidence_password"),
		DBName:     getEnv("DB_NAME", "evidence_db"),

		ProviderURL:       getEnv("MODEL_PROVIDER_URL", "http://model-gateway:8080"),
		ProviderAPIKey:    getSecret("MODEL_PROVIDER_API_KEY", "MODEL_PROVIDER_API_KEY_FILE", ""),
		PrimaryModel:      getEnv("PRIMARY_MODEL", "gpt-4o"),
		FallbackModel:     getEnv("FALLBACK_MODEL", "gpt-4o-mini"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDim:      getEnvInt("EMBEDDING_DIM", 1536),
		RequestsPerMinute: getEnvInt("PROVIDER_RPM", 60),

		InheritanceURL:     getEnv("INHERITANCE_REGISTRY_URL", "http://inheritance-registry:9020"),
		InheritanceTimeout: getEnvInt("INHERITANCE_TIMEOUT_SECONDS", 10),
		ProviderName:       getEnv("PLATFORM_PROVIDER_NAME", ""),

		PromptVersion:   getEnv("ASSESSMENT_PROMPT_VERSION", "assess-v1"),
		AnswerMaxTokens: getEnvInt("ASSESSMENT_MAX_TOKENS", 2048),
		ModelTimeout:    getEnvInt("MODEL_TIMEOUT_SECONDS", 120),
		BatchSize:       getEnvInt("ANALYSIS_BATCH_SIZE", 5),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://otel-collector:4318"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
