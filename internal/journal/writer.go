package journal

import (
	"context"
	"sync"
	"time"

	"github.com/iyuvalk/switcher-breeze-rest/internal/infrastructure/logging"
)

const (
	// DefaultQueueSize bounds the number of entries waiting to be written.
	// Entries beyond this are dropped so requests never wait on the disk.
	DefaultQueueSize = 256

	pruneInterval = time.Hour
	writeTimeout  = 5 * time.Second
)

// Writer drains entries to a Repository on a single goroutine.
//
// Thread Safety:
//   - Enqueue is safe for concurrent use.
//   - Start and Stop must not be called concurrently.
type Writer struct {
	repo      Repository
	logger    *logging.Logger
	retention time.Duration
	queue     chan *Entry

	mu      sync.Mutex
	dropped int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWriter creates a Writer. A zero retention disables pruning.
func NewWriter(repo Repository, retention time.Duration, logger *logging.Logger) *Writer {
	return &Writer{
		repo:      repo,
		logger:    logger,
		retention: retention,
		queue:     make(chan *Entry, DefaultQueueSize),
	}
}

// Repository returns the underlying store, used for history reads.
func (w *Writer) Repository() Repository {
	return w.repo
}

// Enqueue schedules an entry for writing. It never blocks; when the queue
// is full the entry is dropped and counted.
func (w *Writer) Enqueue(entry *Entry) {
	if w == nil || entry == nil {
		return
	}

	select {
	case w.queue <- entry:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.logger.Warn("journal queue full, dropping entry",
			"device_id", entry.DeviceID,
			"action", entry.Action,
		)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (w *Writer) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Start launches the drain goroutine.
func (w *Writer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
}

// Stop cancels the drain goroutine and waits until queued entries are written.
func (w *Writer) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)

	var tick <-chan time.Time
	if w.retention > 0 {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		tick = ticker.C
		w.prune()
	}

	for {
		select {
		case entry := <-w.queue:
			w.write(entry)
		case <-tick:
			w.prune()
		case <-ctx.Done():
			// Drain what is already queued before exiting
			for {
				select {
				case entry := <-w.queue:
					w.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.repo.Create(ctx, entry); err != nil {
		w.logger.Error("journal write failed",
			"device_id", entry.DeviceID,
			"action", entry.Action,
			"error", err,
		)
	}
}

func (w *Writer) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	n, err := w.repo.Prune(ctx, w.retention)
	if err != nil {
		w.logger.Error("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("journal pruned", "deleted", n, "retention", w.retention.String())
	}
}
