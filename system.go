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


// Package plansight wires configuration to the storage backends, model
// providers and pipelines.
//
//	cfg, err := config.Load("plansight.yaml")
//	sys, err := plansight.Open(ctx, cfg)
//	defer sys.Close()
//	indexer, err := sys.NewIndexer()
package plansight

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/ai/openai"
	"github.com/poiesic/plansight/ai/vertex"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/extract"
	"github.com/poiesic/plansight/indexing"
	"github.com/poiesic/plansight/reembed"
	"github.com/poiesic/plansight/retrieval"
	"github.com/poiesic/plansight/storage"
	"github.com/poiesic/plansight/storage/badger"
	"github.com/poiesic/plansight/storage/firestore"
	"github.com/poiesic/plansight/storage/objects"
	"github.com/poiesic/plansight/storage/postgres"
	"github.com/poiesic/plansight/wiki"
)

// System holds the opened backends for one configuration.
type System struct {
	config    *config.Config
	store     *badger.Store
	runs      storage.RunRepository
	chunks    storage.ChunkRepository
	objects   storage.ObjectStore
	provider  ai.AIProvider
	extractor extract.Extractor
	closers   []io.Closer
	logger    *slog.Logger
}

// Option configures a System.
type Option func(*systemOptions)

type systemOptions struct {
	logger    *slog.Logger
	provider  ai.AIProvider
	objects   storage.ObjectStore
	extractor extract.Extractor
	inMemory  bool
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// WithProvider uses provider instead of the configured model services.
// The System does not close it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *systemOptions) {
		o.provider = provider
	}
}

// WithObjectStore uses store instead of the configured object store.
func WithObjectStore(store storage.ObjectStore) Option {
	return func(o *systemOptions) {
		o.objects = store
	}
}

// WithExtractor uses extractor instead of the PDF extractor.
func WithExtractor(extractor extract.Extractor) Option {
	return func(o *systemOptions) {
		o.extractor = extractor
	}
}

// WithInMemoryStore keeps the local database in memory.
func WithInMemoryStore() Option {
	return func(o *systemOptions) {
		o.inMemory = true
	}
}

// Open validates cfg and opens every configured backend. On error, anything
// already opened is closed.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &systemOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	s := &System{config: cfg, logger: options.logger.With("component", "system")}
	if err := s.open(ctx, options); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) open(ctx context.Context, options *systemOptions) error {
	cfg := s.config.Storage

	// Artifacts and sequences always live in the local database
	var err error
	if options.inMemory {
		s.store, err = badger.NewMemoryStore()
	} else {
		s.store, err = badger.NewStore(cfg.Path)
	}
	if err != nil {
		return err
	}
	s.closers = append(s.closers, s.store)

	switch cfg.Registry {
	case config.RegistryFirestore:
		registry, err := firestore.NewRegistry(ctx, cfg.FirestoreProject)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, registry)
		s.runs = registry
	default:
		s.runs = s.store
	}

	switch cfg.Chunks {
	case config.ChunksPostgres:
		chunks, err := postgres.Open(ctx, postgres.DefaultConfig(cfg.PostgresDSN))
		if err != nil {
			return err
		}
		s.closers = append(s.closers, chunks)
		s.chunks = chunks
	default:
		s.chunks = s.store
	}

	if options.objects != nil {
		s.objects = options.objects
	} else if err := s.openObjects(ctx); err != nil {
		return err
	}

	if options.provider != nil {
		s.provider = options.provider
	} else if err := s.openProvider(ctx); err != nil {
		return err
	}

	if options.extractor != nil {
		s.extractor = options.extractor
	} else {
		s.extractor, err = extract.NewPDFExtractor(s.objects, extract.WithLogger(s.logger))
		if err != nil {
			return err
		}
	}

	s.logger.Debug("system opened", "registry", cfg.Registry, "chunks", cfg.Chunks, "objects", cfg.Objects,
		"generation_backend", s.config.Providers.GenerationBackend)
	return nil
}

func (s *System) openObjects(ctx context.Context) error {
	cfg := s.config.Storage
	switch cfg.Objects {
	case config.ObjectsMinio:
		store, err := objects.NewMinioStore(ctx, objects.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Secure:    cfg.MinioSecure,
			Bucket:    cfg.Bucket,
		})
		if err != nil {
			return err
		}
		s.objects = store
	case config.ObjectsGCS:
		store, err := objects.NewGCSStore(ctx, cfg.Bucket)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, store)
		s.objects = store
	default:
		store, err := objects.NewLocalStore(cfg.ObjectRoot)
		if err != nil {
			return err
		}
		s.objects = store
	}
	return nil
}

// openProvider builds the embedding service and the configured generation
// backend. Vertex generation pairs with OpenAI-compatible embeddings.
func (s *System) openProvider(ctx context.Context) error {
	p := s.config.Providers
	aiConfig := ai.NewConfig(
		ai.WithEmbeddingHost(p.EmbeddingHost),
		ai.WithGenerationHost(p.GenerationHost),
		ai.WithAPIKey(p.APIKey),
		ai.WithEmbeddingModel(s.config.Indexing.Embedding.Model),
		ai.WithGenerationModel(s.config.Query.Generation.Model),
	)
	compatible, err := openai.NewProvider(aiConfig, openai.WithLogger(s.logger))
	if err != nil {
		return err
	}
	s.closers = append(s.closers, compatible)

	if p.GenerationBackend != config.BackendVertex {
		s.provider = compatible
		return nil
	}

	generator, err := vertex.NewGenerator(ctx, p.Project, p.Location, s.config.Query.Generation.Model)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, generator)
	s.provider = ai.NewCompositeProvider(compatible.Embedder(), generator)
	return nil
}

// Close releases every opened backend in reverse order.
func (s *System) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Error("error closing backend", "err", err)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Config returns the validated configuration.
func (s *System) Config() *config.Config {
	return s.config
}

// Runs returns the run registry.
func (s *System) Runs() storage.RunRepository {
	return s.runs
}

// Chunks returns the chunk store.
func (s *System) Chunks() storage.ChunkRepository {
	return s.chunks
}

// Objects returns the object store.
func (s *System) Objects() storage.ObjectStore {
	return s.objects
}

// NewIndexer creates an indexing orchestrator. Call Release when done.
func (s *System) NewIndexer(opts ...indexing.Option) (*indexing.Orchestrator, error) {
	return indexing.NewOrchestrator(indexing.Dependencies{
		Runs:      s.runs,
		Chunks:    s.chunks,
		Artifacts: s.store,
		Objects:   s.objects,
		Extractor: s.extractor,
		Provider:  s.provider,
	}, s.config.Indexing, s.config.IndexingOptions, append([]indexing.Option{indexing.WithLogger(s.logger)}, opts...)...)
}

// NewWikiGenerator creates a wiki orchestrator.
func (s *System) NewWikiGenerator(opts ...wiki.Option) (*wiki.Orchestrator, error) {
	return wiki.NewOrchestrator(wiki.Dependencies{
		Runs:      s.runs,
		Chunks:    s.chunks,
		Artifacts: s.store,
		Objects:   s.objects,
		Provider:  s.provider,
	}, s.config.Wiki, s.config.WikiOptions, append([]wiki.Option{wiki.WithLogger(s.logger)}, opts...)...)
}

// NewSearch creates a retrieval service with the query settings.
func (s *System) NewSearch() (*retrieval.Service, error) {
	return retrieval.NewService(s.chunks, s.provider, s.config.Query.Retrieval, retrieval.WithLogger(s.logger))
}

// NewAnswerer creates a question answerer with the query settings.
func (s *System) NewAnswerer() (*retrieval.Answerer, error) {
	search, err := s.NewSearch()
	if err != nil {
		return nil, err
	}
	return retrieval.NewAnswerer(search, s.provider, s.config.Query, s.logger)
}

// NewReembedder creates a reembedder writing progress to progress.
func (s *System) NewReembedder(progress io.Writer) *reembed.Reembedder {
	opts := s.config.IndexingOptions
	return reembed.NewReembedder(s.chunks, s.provider.Embedder(), &reembed.Config{
		BatchSize:      opts.EmbeddingBatchSize,
		ReportInterval: max(opts.EmbeddingBatchSize, 100),
		MaxRetries:     opts.MaxRetries,
		RetryDelay:     opts.RetryDelay,
		Dimensions:     s.config.Indexing.Embedding.Dimensions,
	}, progress)
}
