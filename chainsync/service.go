// Package chainsync pushes domain records to durable off-system storage and
// anchors a content hash on the ledger. The queue is the reliability layer:
// records survive process restarts, failed attempts back off and retry, and
// records that exhaust their budget are parked rather than dropped.
package chainsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"datanexus/ledger"
	"datanexus/metrics"
)

// Repository is the persistent sync queue.
type Repository interface {
	Insert(ctx context.Context, rec SyncRecord) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]SyncRecord, error)
	SaveRefs(ctx context.Context, id string, durableRef, anchorRef *string) error
	MarkSynced(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error
	MarkUnsynced(ctx context.Context, id string, attempts int) error
	ReleaseStuck(ctx context.Context, olderThan time.Time) (int64, error)
	RequeueUnsynced(ctx context.Context, now time.Time) (int64, error)
	CountByState(ctx context.Context) (map[State]int64, error)
}

// Anchorer commits a record's content hash to the ledger.
type Anchorer interface {
	AnchorRecord(ctx context.Context, anchor ledger.Anchor) (string, error)
}

// Service enqueues records and drains the queue with a bounded worker pool.
type Service struct {
	repo     Repository
	durable  DurableStore
	anchorer Anchorer

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	batchSize   int
	workers     int
	stuckAfter  time.Duration

	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, durable DurableStore, anchorer Anchorer) *Service {
	return &Service{
		repo:        repo,
		durable:     durable,
		anchorer:    anchorer,
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
		batchSize:   32,
		workers:     4,
		stuckAfter:  5 * time.Minute,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

// WithRetryPolicy overrides the attempt budget and backoff bounds.
func (s *Service) WithRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *Service {
	s.maxAttempts = maxAttempts
	s.baseDelay = baseDelay
	s.maxDelay = maxDelay
	return s
}

// WithWorkers sets the claim batch size and pool width.
func (s *Service) WithWorkers(workers, batchSize int) *Service {
	s.workers = workers
	s.batchSize = batchSize
	return s
}

// WithIDGenerator overrides record id generation.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Enqueue queues one domain record for sync. The content hash is computed
// here, over the canonical form of the payload as it will be uploaded.
func (s *Service) Enqueue(ctx context.Context, recordType, domainID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("chainsync: marshal payload: %w", err)
	}
	hash, err := ContentHash(raw)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rec := SyncRecord{
		ID:          s.idGenerator(),
		RecordType:  recordType,
		DomainID:    domainID,
		Payload:     raw,
		ContentHash: hash,
		State:       StatePending,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.repo.Insert(ctx, rec)
}

// RunOnce claims due records and processes them on the worker pool. It
// returns the number of records that reached synced.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	claimed, err := s.repo.ClaimDue(ctx, s.now().UTC(), s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	results := make([]bool, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rec := range claimed {
		g.Go(func() error {
			results[i] = s.handle(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	synced := 0
	for _, ok := range results {
		if ok {
			synced++
		}
	}
	return synced, nil
}

// Run drains the queue until ctx is done, sweeping for stuck and parked
// records as it goes.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep := time.NewTicker(10 * interval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				log.Printf("chainsync: run once: %v", err)
			}
		case <-sweep.C:
			s.reconcile(ctx)
		}
	}
}

// handle runs one record through upload, integrity check and anchor. It
// reports whether the record reached synced.
func (s *Service) handle(ctx context.Context, rec SyncRecord) bool {
	err := s.process(ctx, &rec)
	if err == nil {
		if markErr := s.repo.MarkSynced(ctx, rec.ID); markErr != nil {
			log.Printf("chainsync: mark synced %s: %v", rec.ID, markErr)
			return false
		}
		metrics.SyncAttempts.WithLabelValues(rec.RecordType, "ok").Inc()
		return true
	}

	attempts := rec.Attempts + 1
	if attempts >= s.maxAttempts {
		log.Printf("chainsync: record %s (%s) parked after %d attempts: %v", rec.ID, rec.RecordType, attempts, err)
		if markErr := s.repo.MarkUnsynced(ctx, rec.ID, attempts); markErr != nil {
			log.Printf("chainsync: mark unsynced %s: %v", rec.ID, markErr)
		}
		metrics.SyncAttempts.WithLabelValues(rec.RecordType, "exhausted").Inc()
		return false
	}

	retryAt := s.now().UTC().Add(s.backoff(attempts))
	log.Printf("chainsync: record %s attempt %d failed, retrying at %s: %v", rec.ID, attempts, retryAt.Format(time.RFC3339), err)
	if markErr := s.repo.MarkRetry(ctx, rec.ID, attempts, retryAt); markErr != nil {
		log.Printf("chainsync: mark retry %s: %v", rec.ID, markErr)
	}
	metrics.SyncAttempts.WithLabelValues(rec.RecordType, "retry").Inc()
	return false
}

func (s *Service) process(ctx context.Context, rec *SyncRecord) error {
	if rec.DurableRef == nil {
		up, err := s.durable.Upload(ctx, rec.Payload)
		if err != nil {
			return err
		}
		// Verify what the store actually holds before trusting the ref.
		stored, err := s.durable.Fetch(ctx, up.ID)
		if err != nil {
			return fmt.Errorf("chainsync: fetch-back %s: %w", up.ID, err)
		}
		storedHash, err := ContentHash(stored)
		if err != nil {
			return fmt.Errorf("%w: stored payload unparsable: %v", ErrIntegrity, err)
		}
		if storedHash != rec.ContentHash {
			return fmt.Errorf("%w: got %s, want %s", ErrIntegrity, storedHash, rec.ContentHash)
		}
		rec.DurableRef = &up.ID
		if err := s.repo.SaveRefs(ctx, rec.ID, rec.DurableRef, nil); err != nil {
			return err
		}
	}

	if rec.AnchorRef == nil {
		sig, err := s.anchorer.AnchorRecord(ctx, ledger.Anchor{
			ContentHash: rec.ContentHash,
			RecordType:  rec.RecordType,
			DurableRef:  *rec.DurableRef,
		})
		if err != nil {
			return fmt.Errorf("chainsync: anchor %s: %w", rec.ID, err)
		}
		rec.AnchorRef = &sig
		if err := s.repo.SaveRefs(ctx, rec.ID, nil, rec.AnchorRef); err != nil {
			return err
		}
	}

	return nil
}

// reconcile releases claims abandoned by dead workers, refreshes the queue
// depth gauge, and reports parked records.
func (s *Service) reconcile(ctx context.Context) {
	released, err := s.repo.ReleaseStuck(ctx, s.now().UTC().Add(-s.stuckAfter))
	if err != nil {
		log.Printf("chainsync: release stuck: %v", err)
	} else if released > 0 {
		log.Printf("chainsync: released %d stuck records", released)
	}

	counts, err := s.repo.CountByState(ctx)
	if err != nil {
		log.Printf("chainsync: count by state: %v", err)
		return
	}
	metrics.SyncQueueDepth.Set(float64(counts[StatePending] + counts[StateInProgress]))
	if parked := counts[StateUnsynced]; parked > 0 {
		log.Printf("chainsync: %d records parked unsynced", parked)
	}
}

// Requeue gives every parked record a fresh retry budget. Exposed for the
// operator endpoint.
func (s *Service) Requeue(ctx context.Context) (int64, error) {
	return s.repo.RequeueUnsynced(ctx, s.now().UTC())
}

func (s *Service) backoff(attempts int) time.Duration {
	delay := s.baseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	if delay > s.maxDelay {
		return s.maxDelay
	}
	return delay
}
