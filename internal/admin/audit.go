package admin

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rampart-project/rampart/internal/db"
	"github.com/rampart-project/rampart/internal/util"
)

const (
	defaultAuditBuffer  = 256
	auditInsertTimeout = 2 * time.Second
)

// AuditWriter appends audit rows off the caller's goroutine. Submit never
// blocks; rows are dropped with a warning when the buffer is full.
type AuditWriter struct {
	store  Store
	ch     chan db.AuditEntry
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
	logger zerolog.Logger
}

// NewAuditWriter starts the writer goroutine. A nil store yields a writer
// that discards everything.
func NewAuditWriter(store Store, buffer int) *AuditWriter {
	w := &AuditWriter{
		store:  store,
		ch:     make(chan db.AuditEntry, buffer),
		done:   make(chan struct{}),
		logger: util.ComponentLogger("audit"),
	}
	if store == nil {
		close(w.done)
		w.closed = true
		return w
	}
	go w.run()
	return w
}

// Submit queues e for insertion.
func (w *AuditWriter) Submit(e db.AuditEntry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	select {
	case w.ch <- e:
	default:
		w.logger.Warn().Str("command", e.Command).Msg("audit buffer full, entry dropped")
	}
}

// Close stops accepting rows and waits for queued ones to be written.
func (w *AuditWriter) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		if !w.closed {
			w.closed = true
			close(w.ch)
		}
		w.mu.Unlock()
	})
	<-w.done
}

func (w *AuditWriter) run() {
	defer close(w.done)
	for e := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), auditInsertTimeout)
		if err := w.store.InsertAudit(ctx, e); err != nil {
			w.logger.Warn().Err(err).Str("command", e.Command).Msg("failed to write audit entry")
		}
		cancel()
	}
}
