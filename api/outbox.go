package api

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
)

// The command outbox decouples request handling from queue delivery.
// Submissions are journaled, then drained to the command queue by a pool of
// batching workers with retry. The journal guarantees accepted commands
// survive a process restart.

type enqueueJob struct {
	userID string
	cmds   []domain.Command
	added  []string
}

type outboxConfig struct {
	bufferSize     int
	workerCount    int
	batchSize      int
	flushInterval  time.Duration
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration

	journalDir   string
	segmentBytes int64
	syncEvery    int
	syncInterval time.Duration
}

func outboxConfigFromEnv() outboxConfig {
	cfg := outboxConfig{
		bufferSize:     envInt("OUTBOX_BUFFER", 4096),
		workerCount:    envInt("OUTBOX_WORKERS", 16),
		batchSize:      envInt("OUTBOX_BATCH", 32),
		flushInterval:  envDur("OUTBOX_FLUSH_INTERVAL", 5*time.Millisecond),
		enqueueTimeout: envDur("OUTBOX_ENQUEUE_TIMEOUT", 60*time.Second),
		handoffTimeout: envDur("OUTBOX_HANDOFF_TIMEOUT", 25*time.Millisecond),
		retryInitial:   envDur("OUTBOX_RETRY_INITIAL", 250*time.Millisecond),
		retryMax:       envDur("OUTBOX_RETRY_MAX", 30*time.Second),
		journalDir:     envString("OUTBOX_DIR", filepath.Join(os.TempDir(), "roadmap-outbox")),
		segmentBytes:   int64(envInt("OUTBOX_SEGMENT_MB", 128)) * 1024 * 1024,
		syncEvery:      envInt("OUTBOX_SYNC_EVERY", 1),
		syncInterval:   envDur("OUTBOX_SYNC_INTERVAL", 2*time.Millisecond),
	}
	if cfg.workerCount <= 0 {
		cfg.workerCount = 1
	}
	if cfg.batchSize <= 0 {
		cfg.batchSize = 1
	}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = cfg.workerCount * cfg.batchSize * 2
	}
	if cfg.segmentBytes <= 0 {
		cfg.segmentBytes = 64 * 1024 * 1024
	}
	if cfg.syncEvery <= 0 {
		cfg.syncEvery = 1
	}
	return cfg
}

type commandOutbox struct {
	cfg     outboxConfig
	store   Storage
	logger  *log.Logger
	journal *journal

	workCh   chan *outboxRecord
	stopCh   chan struct{}
	workerWG sync.WaitGroup
	retryWG  sync.WaitGroup

	mu        sync.Mutex
	inflight  map[uint64]*outboxRecord
	acked     map[uint64]struct{}
	nextAck   uint64
	closing   bool
	delivered atomic.Uint64
	started   time.Time
}

var (
	globalOutbox *commandOutbox
	outboxOnce   sync.Once
)

var errOutboxSaturated = errors.New("command outbox is saturated")

func initCommandSender(store Storage, logger *log.Logger) {
	outboxOnce.Do(func() {
		if store == nil {
			panic("storage is required")
		}
		if logger == nil {
			panic("logger is required")
		}

		cfg := outboxConfigFromEnv()
		j, pending, err := openJournal(journalConfig{
			dir:          cfg.journalDir,
			segmentBytes: cfg.segmentBytes,
			syncEvery:    cfg.syncEvery,
			syncInterval: cfg.syncInterval,
			logger:       logger,
		})
		if err != nil {
			logger.Fatalf("failed to open command outbox journal: %v", err)
		}

		globalOutbox = newCommandOutbox(cfg, store, logger, j, pending)
		globalOutbox.start()
	})
}

func newCommandOutbox(cfg outboxConfig, store Storage, logger *log.Logger, j *journal, pending []*outboxRecord) *commandOutbox {
	ob := &commandOutbox{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		journal:  j,
		workCh:   make(chan *outboxRecord, cfg.bufferSize),
		stopCh:   make(chan struct{}),
		inflight: make(map[uint64]*outboxRecord),
		acked:    make(map[uint64]struct{}),
		nextAck:  j.committed,
		started:  time.Now().UTC(),
	}

	sort.Slice(pending, func(i, k int) bool { return pending[i].Offset < pending[k].Offset })
	for _, rec := range pending {
		ob.inflight[rec.Offset] = rec
	}
	go func() {
		for _, rec := range pending {
			select {
			case ob.workCh <- rec:
			case <-ob.stopCh:
				return
			}
		}
	}()

	return ob
}

func (o *commandOutbox) start() {
	for i := 0; i < o.cfg.workerCount; i++ {
		o.workerWG.Add(1)
		go o.worker(i)
	}
	if o.cfg.syncInterval > 0 {
		go o.syncLoop()
	}
}

func (o *commandOutbox) syncLoop() {
	ticker := time.NewTicker(o.cfg.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.journal.mu.Lock()
			err := o.journal.syncLocked()
			o.journal.mu.Unlock()
			if err != nil {
				if errors.Is(err, errJournalClosed) {
					return
				}
				o.logger.WithError(err).Error("outbox journal sync failed")
			}
		case <-o.stopCh:
			return
		}
	}
}

func (o *commandOutbox) shutdown() {
	o.mu.Lock()
	if o.closing {
		o.mu.Unlock()
		return
	}
	o.closing = true
	close(o.stopCh)
	o.mu.Unlock()

	close(o.workCh)
	o.workerWG.Wait()
	o.retryWG.Wait()
	o.journal.close()
}

// enqueue journals the job and hands it to a worker. On handoff failure the
// journal append is rolled back so the caller can fall back to an inline
// enqueue without duplicating the commands later.
func (o *commandOutbox) enqueue(job enqueueJob) error {
	if len(job.cmds) == 0 {
		return nil
	}

	rec := &outboxRecord{
		UserID:    job.userID,
		Commands:  append([]domain.Command(nil), job.cmds...),
		AddedKeys: append([]string(nil), job.added...),
		Accepted:  time.Now().UTC(),
	}

	o.journal.mu.Lock()
	if err := o.journal.appendLocked(rec); err != nil {
		o.journal.mu.Unlock()
		return err
	}
	if err := o.journal.syncIfDueLocked(); err != nil {
		if rbErr := o.journal.dropTailLocked(rec); rbErr != nil {
			o.logger.WithError(rbErr).Error("journal rollback failed")
		}
		o.journal.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.inflight[rec.Offset] = rec
	o.mu.Unlock()

	if err := o.handoff(rec); err != nil {
		o.mu.Lock()
		delete(o.inflight, rec.Offset)
		o.mu.Unlock()
		if rbErr := o.journal.dropTailLocked(rec); rbErr != nil {
			o.logger.WithError(rbErr).Error("journal rollback failed")
		}
		if syncErr := o.journal.syncLocked(); syncErr != nil {
			o.logger.WithError(syncErr).Error("journal sync after rollback failed")
		}
		o.journal.mu.Unlock()
		return err
	}
	o.journal.mu.Unlock()
	return nil
}

func (o *commandOutbox) handoff(rec *outboxRecord) error {
	if o.cfg.handoffTimeout <= 0 {
		select {
		case o.workCh <- rec:
			return nil
		default:
			return errOutboxSaturated
		}
	}

	timer := time.NewTimer(o.cfg.handoffTimeout)
	defer timer.Stop()
	select {
	case o.workCh <- rec:
		return nil
	case <-timer.C:
		return errOutboxSaturated
	case <-o.stopCh:
		return errors.New("outbox shutting down")
	}
}

func (o *commandOutbox) worker(id int) {
	defer o.workerWG.Done()

	batch := make([]*outboxRecord, 0, o.cfg.batchSize)
	timer := time.NewTimer(o.cfg.flushInterval)
	defer timer.Stop()
	for {
		if len(batch) == 0 {
			select {
			case rec, ok := <-o.workCh:
				if !ok {
					return
				}
				if rec == nil {
					continue
				}
				batch = append(batch, rec)
				timer.Reset(o.cfg.flushInterval)
			case <-o.stopCh:
				return
			}
		}

	gather:
		for len(batch) < o.cfg.batchSize {
			select {
			case rec, ok := <-o.workCh:
				if !ok {
					break gather
				}
				if rec == nil {
					continue
				}
				batch = append(batch, rec)
			case <-timer.C:
				timer.Reset(o.cfg.flushInterval)
				break gather
			case <-o.stopCh:
				return
			}
		}

		o.flushBatch(batch, id)
		batch = batch[:0]
	}
}

func (o *commandOutbox) flushBatch(batch []*outboxRecord, workerID int) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.enqueueTimeout)
	defer cancel()

	delivered := make([]*outboxRecord, 0, len(batch))
	for _, rec := range batch {
		if err := o.store.EnqueueCommands(ctx, rec.UserID, rec.Commands); err != nil {
			rec.Attempt++
			rec.LastErr = err.Error()
			o.logger.WithError(err).Errorf("outbox delivery failed, worker=%d, user=%s, cmds=%d, offset=%d, attempt=%d",
				workerID, rec.UserID, len(rec.Commands), rec.Offset, rec.Attempt)
			o.scheduleRetry(rec)
			continue
		}
		rec.Attempt = 0
		rec.LastErr = ""
		delivered = append(delivered, rec)
	}
	if len(delivered) > 0 {
		o.markDelivered(delivered)
	}
}

// markDelivered acknowledges records and advances the commit watermark once
// the acked set is contiguous from the previous watermark.
func (o *commandOutbox) markDelivered(records []*outboxRecord) {
	var commit uint64

	o.mu.Lock()
	for _, rec := range records {
		delete(o.inflight, rec.Offset)
		o.acked[rec.Offset] = struct{}{}
	}
	o.delivered.Add(uint64(len(records)))
	for {
		next := o.nextAck + 1
		if _, ok := o.acked[next]; !ok {
			break
		}
		delete(o.acked, next)
		o.nextAck = next
		commit = next
	}
	o.mu.Unlock()

	if commit > 0 {
		o.journal.mu.Lock()
		if err := o.journal.commitLocked(commit); err != nil {
			o.logger.WithError(err).Error("failed to commit outbox journal")
		}
		o.journal.mu.Unlock()
	}
}

func (o *commandOutbox) scheduleRetry(rec *outboxRecord) {
	delay := retryBackoff(rec.Attempt, o.cfg.retryInitial, o.cfg.retryMax)
	o.retryWG.Add(1)
	timer := time.NewTimer(delay)
	go func(r *outboxRecord) {
		defer o.retryWG.Done()
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case o.workCh <- r:
			case <-o.stopCh:
			}
		case <-o.stopCh:
		}
	}(rec)
}

func retryBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}

func enqueueCommands(job enqueueJob) error {
	if globalOutbox == nil {
		return errors.New("command outbox unavailable")
	}
	return globalOutbox.enqueue(job)
}

type outboxStats struct {
	QueueDepth int           `json:"queueDepth"`
	Buffered   int           `json:"buffered"`
	OldestAge  time.Duration `json:"oldestAge"`
	Delivered  uint64        `json:"delivered"`
	StartedAt  time.Time     `json:"startedAt"`
	DrainRate  float64       `json:"drainRatePerSecond"`
}

func (o *commandOutbox) stats() outboxStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var oldest time.Duration
	now := time.Now()
	for _, rec := range o.inflight {
		if age := now.Sub(rec.Accepted); age > oldest {
			oldest = age
		}
	}

	delivered := o.delivered.Load()
	rate := 0.0
	if elapsed := time.Since(o.started); elapsed > 0 {
		rate = float64(delivered) / elapsed.Seconds()
	}

	return outboxStats{
		QueueDepth: len(o.inflight),
		Buffered:   len(o.workCh),
		OldestAge:  oldest,
		Delivered:  delivered,
		StartedAt:  o.started,
		DrainRate:  rate,
	}
}

func getOutboxStats() (outboxStats, error) {
	if globalOutbox == nil {
		return outboxStats{}, errors.New("command outbox unavailable")
	}
	return globalOutbox.stats(), nil
}

func shutdownCommandSender() {
	if globalOutbox != nil {
		globalOutbox.shutdown()
	}
	globalOutbox = nil
	outboxOnce = sync.Once{}
}

// ShutdownCommandSender stops the outbox workers and closes the journal.
// Pending records are re-delivered from the journal on the next start.
func ShutdownCommandSender() {
	shutdownCommandSender()
}
