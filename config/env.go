package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overrides file values with environment variables when set.
func applyEnv(cfg *Config) {
	if model := getEnv("PLANSIGHT_GENERATION_MODEL", ""); model != "" {
		cfg.Indexing.Generation.Model = model
		cfg.Query.Generation.Model = model
		cfg.Wiki.Generation.Model = model
	}
	if model := getEnv("PLANSIGHT_EMBEDDING_MODEL", ""); model != "" {
		for _, s := range []*Settings{&cfg.Indexing, &cfg.Query, &cfg.Wiki} {
			s.Embedding.Model = model
			s.Retrieval.EmbeddingModel = model
		}
	}
	if dims := getEnvAsInt("PLANSIGHT_EMBEDDING_DIMENSIONS", 0); dims > 0 {
		for _, s := range []*Settings{&cfg.Indexing, &cfg.Query, &cfg.Wiki} {
			s.Embedding.Dimensions = dims
			s.Retrieval.Dimensions = dims
		}
	}
	if timeout := getEnvAsDuration("PLANSIGHT_LLM_TIMEOUT", 0); timeout > 0 {
		cfg.Indexing.Generation.Timeout = timeout
		cfg.Query.Generation.Timeout = timeout
		cfg.Wiki.Generation.Timeout = timeout
	}
	if topK := getEnvAsInt("PLANSIGHT_TOP_K", 0); topK > 0 {
		cfg.Query.Retrieval.TopK = topK
	}
	if threshold := getEnvAsFloat32("PLANSIGHT_SIMILARITY_THRESHOLD", -1); threshold >= 0 {
		cfg.Query.Retrieval.SimilarityThreshold = threshold
	}
	cfg.IndexingOptions.Concurrency = getEnvAsInt("PLANSIGHT_CONCURRENCY", cfg.IndexingOptions.Concurrency)

	cfg.Providers.EmbeddingHost = getEnv("PLANSIGHT_EMBEDDING_HOST", cfg.Providers.EmbeddingHost)
	cfg.Providers.GenerationHost = getEnv("PLANSIGHT_GENERATION_HOST", cfg.Providers.GenerationHost)
	cfg.Providers.GenerationBackend = getEnv("PLANSIGHT_GENERATION_BACKEND", cfg.Providers.GenerationBackend)
	cfg.Providers.APIKey = getEnv("OPENAI_API_KEY", cfg.Providers.APIKey)
	cfg.Providers.Project = getEnv("GOOGLE_CLOUD_PROJECT", cfg.Providers.Project)
	cfg.Providers.Location = getEnv("GOOGLE_CLOUD_LOCATION", cfg.Providers.Location)

	cfg.Storage.Path = getEnv("PLANSIGHT_DB_PATH", cfg.Storage.Path)
	cfg.Storage.PostgresDSN = getEnv("PLANSIGHT_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.Bucket = getEnv("PLANSIGHT_BUCKET", cfg.Storage.Bucket)
	cfg.Storage.MinioEndpoint = getEnv("MINIO_ENDPOINT", cfg.Storage.MinioEndpoint)
	cfg.Storage.MinioAccessKey = getEnv("MINIO_ACCESS_KEY", cfg.Storage.MinioAccessKey)
	cfg.Storage.MinioSecretKey = getEnv("MINIO_SECRET_KEY", cfg.Storage.MinioSecretKey)
	cfg.Storage.FirestoreProject = getEnv("FIRESTORE_PROJECT", cfg.Storage.FirestoreProject)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
