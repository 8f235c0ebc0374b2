// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/poiesic/plansight/core"
	"gopkg.in/yaml.v3"
)

// ChunkingSettings controls how enriched content is split into chunks.
type ChunkingSettings struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// EmbeddingSettings selects the model used to vectorize chunks.
type EmbeddingSettings struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RetrievalSettings controls similarity search.
type RetrievalSettings struct {
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float32 `yaml:"similarity_threshold"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	Dimensions          int     `yaml:"dimensions"`
}

// GenerationSettings controls LLM calls.
type GenerationSettings struct {
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	FallbackModels []string      `yaml:"fallback_models"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Settings is the merged configuration for one pipeline kind.
type Settings struct {
	Chunking   ChunkingSettings   `yaml:"chunking"`
	Embedding  EmbeddingSettings  `yaml:"embedding"`
	Retrieval  RetrievalSettings  `yaml:"retrieval"`
	Generation GenerationSettings `yaml:"generation"`
}

// IndexingOptions controls the indexing orchestrator's runtime behaviour.
type IndexingOptions struct {
	Concurrency          int           `yaml:"concurrency"`
	MaxBatchSize         int           `yaml:"max_batch_size"`
	EmbeddingBatchSize   int           `yaml:"embedding_batch_size"`
	EmbeddingConcurrency int           `yaml:"embedding_concurrency"`
	Enrichment           bool          `yaml:"enrichment"`
	MaxRetries           int           `yaml:"max_retries"`
	RetryDelay           time.Duration `yaml:"retry_delay"`
}

// WikiOptions controls the shape of generated wikis.
type WikiOptions struct {
	MinPagesPerDocument  int      `yaml:"min_pages_per_document"`
	MaxPagesPerDocument  int      `yaml:"max_pages_per_document"`
	MinQueriesPerPage    int      `yaml:"min_queries_per_page"`
	MaxQueriesPerPage    int      `yaml:"max_queries_per_page"`
	MaxChunksPerPage     int      `yaml:"max_chunks_per_page"`
	ContentPreviewLength int      `yaml:"content_preview_length"`
	OverviewSampleSize   int      `yaml:"overview_sample_size"`
	OverviewQueries      []string `yaml:"overview_queries"`
	RetrievalConcurrency int      `yaml:"retrieval_concurrency"`
}

// ProviderConfig locates the embedding and generation services.
type ProviderConfig struct {
	EmbeddingHost     string `yaml:"embedding_host"`
	GenerationHost    string `yaml:"generation_host"`
	APIKey            string `yaml:"api_key"`
	GenerationBackend string `yaml:"generation_backend"`
	Project           string `yaml:"project"`
	Location          string `yaml:"location"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	Path              string        `yaml:"path"`
	Registry          string        `yaml:"registry"`
	FirestoreProject  string        `yaml:"firestore_project"`
	Chunks            string        `yaml:"chunks"`
	PostgresDSN       string        `yaml:"postgres_dsn"`
	Objects           string        `yaml:"objects"`
	ObjectRoot        string        `yaml:"object_root"`
	Bucket            string        `yaml:"bucket"`
	MinioEndpoint     string        `yaml:"minio_endpoint"`
	MinioAccessKey    string        `yaml:"minio_access_key"`
	MinioSecretKey    string        `yaml:"minio_secret_key"`
	MinioSecure       bool          `yaml:"minio_secure"`
	SignedURLDuration time.Duration `yaml:"signed_url_duration"`
}

// Config is the validated application configuration.
// Indexing, Query and Wiki hold the effective settings per pipeline kind.
type Config struct {
	Indexing        Settings
	Query           Settings
	Wiki            Settings
	IndexingOptions IndexingOptions
	WikiOptions     WikiOptions
	Providers       ProviderConfig
	Storage         StorageConfig
}

// fileConfig mirrors the YAML layout. Per-kind sections are kept as nodes so
// they can be decoded on top of the defaults.
type fileConfig struct {
	Defaults  yaml.Node       `yaml:"defaults"`
	Indexing  yaml.Node       `yaml:"indexing"`
	Query     yaml.Node       `yaml:"query"`
	Wiki      yaml.Node       `yaml:"wiki"`
	Pipeline  IndexingOptions `yaml:"pipeline"`
	Layout    WikiOptions     `yaml:"wiki_layout"`
	Providers ProviderConfig  `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
}

// DefaultSettings returns the built-in settings every pipeline kind starts from.
func DefaultSettings() Settings {
	return Settings{
		Chunking: ChunkingSettings{
			ChunkSize: 1200,
			Overlap:   200,
		},
		Embedding: EmbeddingSettings{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Retrieval: RetrievalSettings{
			TopK:                8,
			SimilarityThreshold: 0.3,
			EmbeddingModel:      "text-embedding-3-small",
			Dimensions:          1536,
		},
		Generation: GenerationSettings{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
		},
	}
}

// Default returns a complete configuration built from defaults only.
func Default() *Config {
	return &Config{
		Indexing: DefaultSettings(),
		Query:    DefaultSettings(),
		Wiki:     DefaultSettings(),
		IndexingOptions: IndexingOptions{
			Concurrency:          4,
			MaxBatchSize:         core.DefaultMaxBatchSize,
			EmbeddingBatchSize:   64,
			EmbeddingConcurrency: 4,
			Enrichment:           true,
			MaxRetries:           3,
			RetryDelay:           time.Second,
		},
		WikiOptions: WikiOptions{
			MinPagesPerDocument:  2,
			MaxPagesPerDocument:  4,
			MinQueriesPerPage:    3,
			MaxQueriesPerPage:    5,
			MaxChunksPerPage:     12,
			ContentPreviewLength: 800,
			OverviewSampleSize:   10,
			OverviewQueries: []string{
				"project scope and description",
				"project location and site",
				"owner, architect and contractor",
				"schedule and phasing",
			},
			RetrievalConcurrency: 4,
		},
		Providers: ProviderConfig{
			EmbeddingHost:     "https://api.openai.com/v1",
			GenerationHost:    "https://api.openai.com/v1",
			GenerationBackend: BackendOpenAI,
			Location:          "us-central1",
		},
		Storage: StorageConfig{
			Path:              "./plansight-data",
			Registry:          RegistryBadger,
			Chunks:            ChunksBadger,
			Objects:           ObjectsLocal,
			ObjectRoot:        "./plansight-objects",
			SignedURLDuration: time.Hour,
		},
	}
}

// Backend selectors
const (
	BackendOpenAI = "openai"
	BackendVertex = "vertex"

	RegistryBadger    = "badger"
	RegistryFirestore = "firestore"

	ChunksBadger   = "badger"
	ChunksPostgres = "postgres"

	ObjectsLocal = "local"
	ObjectsMinio = "minio"
	ObjectsGCS   = "gcs"
)

// Load reads a YAML configuration file, applies environment overrides and
// validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, core.ConfigurationError("open %s: %v", path, err)
		}
		defer f.Close()
		cfg, err = Parse(f)
		if err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of the defaults. Unknown keys are rejected.
// The result is not validated.
func Parse(r io.Reader) (*Config, error) {
	var file fileConfig
	defaults := Default()
	file.Pipeline = defaults.IndexingOptions
	file.Layout = defaults.WikiOptions
	file.Providers = defaults.Providers
	file.Storage = defaults.Storage

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, core.ConfigurationError("parse: %v", err)
	}

	base := DefaultSettings()
	if err := decodeStrict(&file.Defaults, &base); err != nil {
		return nil, core.ConfigurationError("defaults: %v", err)
	}

	cfg := &Config{
		IndexingOptions: file.Pipeline,
		WikiOptions:     file.Layout,
		Providers:       file.Providers,
		Storage:         file.Storage,
	}

	sections := []struct {
		name string
		node *yaml.Node
		out  *Settings
	}{
		{string(core.KindIndexing), &file.Indexing, &cfg.Indexing},
		{"query", &file.Query, &cfg.Query},
		{string(core.KindWiki), &file.Wiki, &cfg.Wiki},
	}
	for _, section := range sections {
		merged := base.clone()
		if err := decodeStrict(section.node, &merged); err != nil {
			return nil, core.ConfigurationError("%s: %v", section.name, err)
		}
		*section.out = merged
	}

	return cfg, nil
}

// decodeStrict decodes node onto out, keeping fields the node does not set.
// yaml.Node.Decode ignores unknown keys, so the node is re-encoded and
// decoded with KnownFields.
func decodeStrict(node *yaml.Node, out *Settings) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s Settings) clone() Settings {
	s.Generation.FallbackModels = slices.Clone(s.Generation.FallbackModels)
	return s
}

// ForKind returns the effective settings for a pipeline kind name
// ("indexing", "query" or "wiki").
func (c *Config) ForKind(kind string) (Settings, error) {
	switch kind {
	case string(core.KindIndexing):
		return c.Indexing, nil
	case "query":
		return c.Query, nil
	case string(core.KindWiki):
		return c.Wiki, nil
	}
	return Settings{}, core.ConfigurationError("unknown pipeline kind %q", kind)
}

// Validate enforces the startup invariants. Every violation is an
// ErrConfiguration; the first one found is returned.
func (c *Config) Validate() error {
	if c.Indexing.Embedding.Dimensions != c.Query.Retrieval.Dimensions {
		return core.ConfigurationError("indexing.embedding.dimensions (%d) must equal query.retrieval.dimensions (%d)",
			c.Indexing.Embedding.Dimensions, c.Query.Retrieval.Dimensions)
	}
	if c.Indexing.Embedding.Dimensions != c.Wiki.Retrieval.Dimensions {
		return core.ConfigurationError("indexing.embedding.dimensions (%d) must equal wiki.retrieval.dimensions (%d)",
			c.Indexing.Embedding.Dimensions, c.Wiki.Retrieval.Dimensions)
	}

	kinds := []struct {
		name     string
		settings Settings
	}{
		{string(core.KindIndexing), c.Indexing},
		{"query", c.Query},
		{string(core.KindWiki), c.Wiki},
	}
	for _, k := range kinds {
		if err := k.settings.Validate(k.name); err != nil {
			return err
		}
	}

	if err := c.IndexingOptions.Validate(); err != nil {
		return err
	}
	if err := c.WikiOptions.Validate(); err != nil {
		return err
	}
	return c.validateBackends()
}

// Validate checks one kind's settings. Every kind performs LLM calls
// (page transcription, answers, wiki pages), so generation.model is required.
func (s Settings) Validate(kind string) error {
	if s.Generation.Model == "" {
		return core.ConfigurationError("%s.generation.model is required", kind)
	}
	if s.Generation.MaxTokens <= 0 {
		return core.ConfigurationError("%s.generation.max_tokens must be positive", kind)
	}
	if s.Generation.Timeout <= 0 {
		return core.ConfigurationError("%s.generation.timeout must be positive", kind)
	}
	if s.Chunking.ChunkSize <= 0 {
		return core.ConfigurationError("%s.chunking.chunk_size must be positive", kind)
	}
	if s.Chunking.Overlap < 0 || s.Chunking.Overlap >= s.Chunking.ChunkSize {
		return core.ConfigurationError("%s.chunking.overlap must be in [0, chunk_size)", kind)
	}
	if s.Embedding.Model == "" || s.Embedding.Dimensions <= 0 {
		return core.ConfigurationError("%s.embedding requires a model and positive dimensions", kind)
	}
	if s.Retrieval.TopK < 1 || s.Retrieval.TopK > MaxTopK {
		return core.ConfigurationError("%s.retrieval.top_k must be in [1, %d]", kind, MaxTopK)
	}
	if s.Retrieval.SimilarityThreshold < 0 || s.Retrieval.SimilarityThreshold > 1 {
		return core.ConfigurationError("%s.retrieval.similarity_threshold must be in [0, 1]", kind)
	}
	if s.Retrieval.EmbeddingModel == "" {
		return core.ConfigurationError("%s.retrieval.embedding_model is required", kind)
	}
	return nil
}

// MaxTopK bounds retrieval result counts.
const MaxTopK = 50

// Validate checks the orchestrator limits.
func (o IndexingOptions) Validate() error {
	if o.Concurrency < 1 {
		return core.ConfigurationError("pipeline.concurrency must be at least 1")
	}
	if o.MaxBatchSize < 1 {
		return core.ConfigurationError("pipeline.max_batch_size must be at least 1")
	}
	if o.EmbeddingBatchSize < 1 || o.EmbeddingConcurrency < 1 {
		return core.ConfigurationError("pipeline embedding batch size and concurrency must be at least 1")
	}
	if o.MaxRetries < 1 {
		return core.ConfigurationError("pipeline.max_retries must be at least 1")
	}
	return nil
}

// Validate checks the page and query bounds.
func (o WikiOptions) Validate() error {
	if o.MinPagesPerDocument < 1 || o.MaxPagesPerDocument < o.MinPagesPerDocument {
		return core.ConfigurationError("wiki_layout pages per document must satisfy 1 <= min <= max")
	}
	if o.MinQueriesPerPage < 1 || o.MaxQueriesPerPage < o.MinQueriesPerPage {
		return core.ConfigurationError("wiki_layout queries per page must satisfy 1 <= min <= max")
	}
	if o.MaxChunksPerPage < 1 || o.ContentPreviewLength < 1 || o.OverviewSampleSize < 1 {
		return core.ConfigurationError("wiki_layout chunk, preview and sample limits must be positive")
	}
	if len(o.OverviewQueries) == 0 {
		return core.ConfigurationError("wiki_layout.overview_queries must not be empty")
	}
	if o.RetrievalConcurrency < 1 {
		return core.ConfigurationError("wiki_layout.retrieval_concurrency must be at least 1")
	}
	return nil
}

func (c *Config) validateBackends() error {
	switch c.Providers.GenerationBackend {
	case BackendOpenAI:
	case BackendVertex:
		if c.Providers.Project == "" || c.Providers.Location == "" {
			return core.ConfigurationError("providers.project and providers.location are required for vertex")
		}
	default:
		return core.ConfigurationError("unknown generation backend %q", c.Providers.GenerationBackend)
	}

	switch c.Storage.Registry {
	case RegistryBadger:
	case RegistryFirestore:
		if c.Storage.FirestoreProject == "" {
			return core.ConfigurationError("storage.firestore_project is required for the firestore registry")
		}
	default:
		return core.ConfigurationError("unknown registry backend %q", c.Storage.Registry)
	}

	switch c.Storage.Chunks {
	case ChunksBadger:
	case ChunksPostgres:
		if c.Storage.PostgresDSN == "" {
			return core.ConfigurationError("storage.postgres_dsn is required for postgres chunks")
		}
	default:
		return core.ConfigurationError("unknown chunk backend %q", c.Storage.Chunks)
	}

	switch c.Storage.Objects {
	case ObjectsLocal:
		if c.Storage.ObjectRoot == "" {
			return core.ConfigurationError("storage.object_root is required for local objects")
		}
	case ObjectsMinio:
		if c.Storage.MinioEndpoint == "" || c.Storage.Bucket == "" {
			return core.ConfigurationError("storage.minio_endpoint and storage.bucket are required for minio")
		}
	case ObjectsGCS:
		if c.Storage.Bucket == "" {
			return core.ConfigurationError("storage.bucket is required for gcs")
		}
	default:
		return core.ConfigurationError("unknown object backend %q", c.Storage.Objects)
	}

	if c.Storage.Path == "" && (c.Storage.Registry == RegistryBadger || c.Storage.Chunks == ChunksBadger) {
		return core.ConfigurationError("storage.path is required for badger storage")
	}
	return nil
}

// String renders the effective configuration as YAML, with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.Providers.APIKey != "" {
		masked.Providers.APIKey = "****"
	}
	if masked.Storage.MinioSecretKey != "" {
		masked.Storage.MinioSecretKey = "****"
	}
	out, err := yaml.Marshal(struct {
		Indexing  Settings        `yaml:"indexing"`
		Query     Settings        `yaml:"query"`
		Wiki      Settings        `yaml:"wiki"`
		Pipeline  IndexingOptions `yaml:"pipeline"`
		Layout    WikiOptions     `yaml:"wiki_layout"`
		Providers ProviderConfig  `yaml:"providers"`
		Storage   StorageConfig   `yaml:"storage"`
	}{masked.Indexing, masked.Query, masked.Wiki, masked.IndexingOptions, masked.WikiOptions, masked.Providers, masked.Storage})
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
