package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/xaenox/lab-agent/internal/agent"
	"github.com/xaenox/lab-agent/internal/llm"
	"github.com/xaenox/lab-agent/internal/registry"
	"github.com/xaenox/lab-agent/internal/sandbox"
	"github.com/xaenox/lab-agent/internal/search"
	"github.com/xaenox/lab-agent/internal/server"
	"github.com/xaenox/lab-agent/internal/session"
	"github.com/xaenox/lab-agent/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize session storage
	var store session.Store
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory session storage")
		store = session.NewMemoryStore(cfg.Agent.SessionTTL)
	} else {
		logger.Info("Using PostgreSQL session storage")
		store, err = session.NewPostgresStore(session.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatal("Failed to initialize session storage", zap.Error(err))
		}
	}
	sessions := session.NewManager(store, logger)
	defer sessions.Close()

	// Initialize the completion client. Without an API key the pipeline
	// runs rule-based with keyword search.
	var client llm.Client
	var embedder llm.Embedder
	if cfg.OpenAI.APIKey != "" {
		openaiClient := llm.NewOpenAIClient(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.Timeout,
			logger,
		)
		client = openaiClient
		embedder = openaiClient
	} else {
		logger.Warn("No OpenAI API key configured, running in degraded rule-based mode")
	}

	// Index the data directory
	reg := registry.New()
	index := search.NewIndex(embedder, logger)
	reindex := func() (int, error) {
		return indexDataDir(cfg.Agent.DataDir, reg, index, logger)
	}
	if n, err := reindex(); err != nil {
		logger.Warn("Initial data directory scan failed", zap.Error(err), zap.String("dir", cfg.Agent.DataDir))
	} else {
		logger.Info("Indexed data directory", zap.Int("files", n), zap.String("dir", cfg.Agent.DataDir))
	}

	// Assemble the pipeline
	labAgent := agent.New(agent.Config{
		Classifier: agent.NewIntentClassifier(client, logger),
		Extractor:  agent.NewEntityExtractor(client, logger),
		Clarifier:  agent.NewClarifier(reg, logger),
		Retriever:  agent.NewRetriever(index, cfg.Agent.MaxResults, logger),
		Prompts:    agent.NewPromptBuilder(logger),
		Executor:   agent.NewExecutor(sandbox.NewYaegiRunner(logger), cfg.Agent.ExecutionTimeout, logger),
		LLM:        client,
		Sessions:   sessions,
		Registry:   reg,
		Logger:     logger,
	})

	srv := server.New(labAgent, sessions, reindex, logger)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Starting server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// indexDataDir rescans the data directory into the registry and rebuilds
// the search index from the scanned schemas.
func indexDataDir(dir string, reg *registry.Registry, index *search.Index, logger *zap.Logger) (int, error) {
	files, schemas, err := registry.ScanDir(dir)
	if err != nil {
		return 0, err
	}
	reg.Update(files, schemas)

	docs := make([]search.Document, 0, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		cols := schemas[path]
		text := name
		if len(cols) > 0 {
			text = fmt.Sprintf("%s with columns %v", name, cols)
		}
		docs = append(docs, search.Document{
			Text: text,
			Metadata: search.DocumentMetadata{
				FilePath: path,
				FileName: name,
				Columns:  cols,
			},
		})
	}
	index.Reset()
	if err := index.Add(context.Background(), docs...); err != nil {
		logger.Warn("Indexing documents failed", zap.Error(err))
	}
	return len(files), nil
}
