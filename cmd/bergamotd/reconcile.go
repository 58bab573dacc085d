package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/crjfisher/bergamot/internal/config"
	"github.com/crjfisher/bergamot/internal/coordinator"
	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/internal/vectorstore"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "replay the unreconciled structured-write log without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx := cmd.Context()

		structStore, err := structstore.Open(ctx, cfg.StoragePath)
		if err != nil {
			return err
		}
		defer structStore.Close()

		vectorStore := vectorstore.Open(ctx, filepath.Join(cfg.StoragePath, "vectors"))
		defer vectorStore.Close()

		c := coordinator.New(vectorStore, structStore, filepath.Join(cfg.StoragePath, "unreconciled.log"))
		replayed, remaining, err := c.ReplayUnreconciled(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("replayed=%d remaining=%d\n", replayed, remaining)
		return nil
	},
}
