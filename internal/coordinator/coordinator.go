// Package coordinator implements the dual-store write coordinator (spec
// §4.6): the vector write must complete before the structured write: a
// vector-write failure drops the visit entirely (logged, never
// retried — there's nothing to classify against without content), while
// a structured-write failure after a successful vector write is
// recorded in an append-only "unreconciled" log and replayed at the next
// startup, since the page content is already safely persisted.
package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/crjfisher/bergamot/internal/structstore"
	"github.com/crjfisher/bergamot/internal/vectorstore"
	"github.com/crjfisher/bergamot/pkg/models"
)

// Coordinator sequences the two stores' writes for a single classified
// visit.
type Coordinator struct {
	vector     vectorstore.Store
	structured structstore.Store

	logPath string
	logMu   sync.Mutex
}

// New creates a Coordinator. logPath is the unreconciled-log file; it is
// created on first use.
func New(vector vectorstore.Store, structured structstore.Store, logPath string) *Coordinator {
	return &Coordinator{vector: vector, structured: structured, logPath: logPath}
}

// Commit writes doc to the vector store, then ps to the structured
// store, in that order (spec §4.6). Returns the vector-store error, if
// any, wrapped with a "vector write" prefix; a structured-store error is
// recorded for replay and also returned (wrapped with a "structured
// write" prefix) so the caller can log/alert, but the visit is not lost.
func (c *Coordinator) Commit(ctx context.Context, doc models.VectorDocument, ps *models.PageSession) error {
	if err := c.vector.Put(ctx, doc); err != nil {
		log.Error().Err(err).Str("page_id", ps.ID).Msg("vector write failed, visit lost")
		return fmt.Errorf("vector write: %w", err)
	}

	if err := c.structured.CreatePageSession(ctx, ps); err != nil {
		log.Error().Err(err).Str("page_id", ps.ID).Msg("structured write failed after vector write succeeded, recording for replay")
		if logErr := c.appendUnreconciled(ps); logErr != nil {
			log.Error().Err(logErr).Msg("failed to append unreconciled log entry")
		}
		return fmt.Errorf("structured write: %w", err)
	}

	return nil
}

func (c *Coordinator) appendUnreconciled(ps *models.PageSession) error {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open unreconciled log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("marshal page session: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write unreconciled log: %w", err)
	}
	return nil
}

// ReplayUnreconciled re-attempts every pending structured write from the
// unreconciled log, then rewrites the log with only the entries that
// still fail, so a persistently broken structured store doesn't lose
// these records on a second restart.
func (c *Coordinator) ReplayUnreconciled(ctx context.Context) (replayed, remaining int, err error) {
	c.logMu.Lock()
	defer c.logMu.Unlock()

	f, err := os.Open(c.logPath)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("open unreconciled log: %w", err)
	}

	var stillFailing []models.PageSession
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ps models.PageSession
		if err := json.Unmarshal(line, &ps); err != nil {
			log.Error().Err(err).Msg("skipping corrupt unreconciled log entry")
			continue
		}
		if err := c.structured.CreatePageSession(ctx, &ps); err != nil {
			log.Warn().Err(err).Str("page_id", ps.ID).Msg("unreconciled replay still failing")
			stillFailing = append(stillFailing, ps)
			continue
		}
		replayed++
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return replayed, len(stillFailing), fmt.Errorf("scan unreconciled log: %w", err)
	}

	if err := c.rewriteLog(stillFailing); err != nil {
		return replayed, len(stillFailing), fmt.Errorf("rewrite unreconciled log: %w", err)
	}

	log.Info().Int("replayed", replayed).Int("remaining", len(stillFailing)).Msg("unreconciled log replay complete")
	return replayed, len(stillFailing), nil
}

func (c *Coordinator) rewriteLog(remaining []models.PageSession) error {
	tmp := c.logPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp log: %w", err)
	}
	for _, ps := range remaining {
		line, err := json.Marshal(ps)
		if err != nil {
			f.Close()
			return fmt.Errorf("marshal page session: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("write temp log: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp log: %w", err)
	}
	return os.Rename(tmp, c.logPath)
}
