package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"camaron/internal/rag"
)

// Scheduler runs periodic source-directory scans on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	indexer *rag.Indexer

	mu      sync.RWMutex
	lastRun *rag.ScanResult
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler that drives idx.
func New(idx *rag.Indexer) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		indexer: idx,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the reindex job for the given 5-field cron spec and
// starts the scheduler. An empty spec disables scheduled scans.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		log.Printf("[Scheduler] Reindex schedule disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(spec, s.runScan); err != nil {
		return fmt.Errorf("invalid reindex schedule %q: %w", spec, err)
	}

	s.cron.Start()
	log.Printf("[Scheduler] Started with reindex schedule %q", spec)
	return nil
}

// Stop stops the scheduler, waiting for a running scan to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[Scheduler] Stopped")
}

// RunNow triggers an immediate scan outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) (*rag.ScanResult, error) {
	result, err := s.indexer.IndexNow(ctx)

	s.mu.Lock()
	s.lastRun = result
	s.lastErr = err
	s.mu.Unlock()

	return result, err
}

// LastRun reports the most recent scan result and its error, if any.
// The result is nil before the first scan.
func (s *Scheduler) LastRun() (*rag.ScanResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) runScan() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	result, err := s.RunNow(ctx)
	if err != nil {
		log.Printf("[Scheduler] Reindex scan failed: %v", err)
		return
	}
	log.Printf("[Scheduler] Reindex scan: %d scanned, %d indexed, %d skipped, %d removed in %s",
		result.FilesScanned, result.FilesIndexed, result.FilesSkipped, result.FilesRemoved,
		result.Duration.Round(time.Millisecond))
}
