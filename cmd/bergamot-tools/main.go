// Command bergamot-tools exposes the retrieval tool surface (spec
// §4.7) as a spawnable subprocess: semantic_search and get_content over
// line-delimited JSON on stdin/stdout. It is read-only and opens the
// same STORAGE_PATH root the server writes to.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/internal/config"
	"github.com/crjfisher/bergamot/internal/embeddings"
	"github.com/crjfisher/bergamot/internal/toolsurface"
	"github.com/crjfisher/bergamot/internal/vectorstore"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vectorStore := vectorstore.Open(ctx, filepath.Join(cfg.StoragePath, "vectors"))
	defer vectorStore.Close()

	embedder := embeddings.Open(cfg.Classifier.OpenAIAPIKey)

	server := toolsurface.New(vectorStore, embedder)
	if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("tool surface exited")
		os.Exit(1)
	}
}
