// Command bergamotd runs the bergamot ingestion core: the HTTP ingress,
// tree reconciler, classifier pipeline, and dual-store write
// coordinator described across spec §4.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bergamotd",
	Short: "bergamot ingestion core",
	Long: `bergamotd ingests browser visit events, reconstructs navigation
trees, classifies pages, and persists kept pages to a structured store
and a vector store.`,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd.AddCommand(serveCmd, rulesCmd, reconcileCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
