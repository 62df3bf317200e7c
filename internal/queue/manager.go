// Package queue implements the in-process delivery queue and the worker
// manager that hands each delivery to the aggregation handler.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/dim-aggregator/internal/config"
	"github.com/fairyhunter13/dim-aggregator/internal/model"
	"github.com/fairyhunter13/dim-aggregator/internal/obs"
)

// Processor handles one notification payload.
type Processor interface {
	Handle(ctx context.Context, payload []byte) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, payload []byte) error

func (f ProcessorFunc) Handle(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// FailureSink receives deliveries whose processing failed.
type FailureSink interface {
	Fail(ctx context.Context, d model.Delivery, cause error) error
}

// Manager coordinates workers processing queued deliveries and scaling.
type Manager struct {
	cfg    config.Config
	q      *Queue
	proc   Processor
	sink   FailureSink
	seq    Sequencer
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	workerCancels []context.CancelFunc
}

// NewManager constructs a Manager with the given config, queue, and processor.
func NewManager(cfg config.Config, q *Queue, proc Processor) *Manager {
	return &Manager{cfg: cfg, q: q, proc: proc}
}

// SetFailureSink installs a sink for failed deliveries. Call before Start.
func (m *Manager) SetFailureSink(s FailureSink) { m.sink = s }

// Start begins processing and autoscaling in the background.
func (m *Manager) Start(parent context.Context) {
	m.ctx, m.cancel = context.WithCancel(parent)
	m.q.Start(m.ctx, m.cfg.QueueHighWatermark)
	m.addWorkers(m.cfg.InitialWorkerCount)
	go m.scaler()
}

// Stop cancels background routines and stops workers.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	for _, c := range m.workerCancels {
		c()
	}
	m.workerCancels = nil
	m.mu.Unlock()
	obs.WorkerCount.Set(0)
}

// scaler adjusts worker count based on backlog and configuration.
func (m *Manager) scaler() {
	t := time.NewTicker(m.cfg.ScaleInterval)
	defer t.Stop()
	idleTicks := 0
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			backlog := m.q.BacklogSize()
			wc := m.WorkerCount()
			if backlog > wc*m.cfg.ScaleUpBacklogPerWorker && wc < m.cfg.WorkerMax {
				m.addWorkers(1)
				idleTicks = 0
				continue
			}
			if backlog == 0 {
				idleTicks++
				if idleTicks >= m.cfg.ScaleDownIdleTicks && wc > m.cfg.WorkerMin {
					m.removeWorkers(1)
					idleTicks = 0
				}
			} else {
				idleTicks = 0
			}
		}
	}
}

// addWorkers spawns n workers.
func (m *Manager) addWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(m.ctx)
		m.workerCancels = append(m.workerCancels, cancel)
		go m.worker(wctx)
	}
	obs.WorkerCount.Set(float64(len(m.workerCancels)))
	obs.Logger.Info("workers scaled", "worker_count", len(m.workerCancels))
}

// removeWorkers stops up to n workers.
func (m *Manager) removeWorkers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.workerCancels) {
		n = len(m.workerCancels)
	}
	for i := 0; i < n; i++ {
		c := m.workerCancels[len(m.workerCancels)-1]
		m.workerCancels = m.workerCancels[:len(m.workerCancels)-1]
		c()
	}
	obs.WorkerCount.Set(float64(len(m.workerCancels)))
	obs.Logger.Info("workers scaled", "worker_count", len(m.workerCancels))
}

// worker drains deliveries from the queue and runs the processor on each.
func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.q.Out():
			if !d.ReceivedAt.IsZero() {
				obs.QueueWait.WithLabelValues(d.Source).Observe(time.Since(d.ReceivedAt).Seconds())
			}
			m.process(d)
			m.q.MarkProcessed()
		}
	}
}

// process is detached from the worker context; a notification in flight
// completes even when its worker is scaled down. A failed delivery is only
// acknowledged once the failure sink accepted it, so a transport with
// acknowledgement keeps it for redelivery otherwise.
func (m *Manager) process(d model.Delivery) {
	ctx := context.WithoutCancel(m.ctx)
	if err := m.proc.Handle(ctx, d.Payload); err != nil {
		obs.Logger.Error("notification_failed",
			"sequence", d.Sequence,
			"source", d.Source,
			"payload", string(d.Payload),
			"error", err,
		)
		if m.sink != nil {
			if serr := m.sink.Fail(ctx, d, err); serr != nil {
				obs.Logger.Error("failure_sink_error", "sequence", d.Sequence, "error", serr)
				return
			}
		}
	}
	if d.Acker == nil {
		return
	}
	if err := d.Acker.Ack(ctx, d); err != nil {
		obs.Logger.Error("ack_failed", "sequence", d.Sequence, "source", d.Source, "error", err)
	}
}

// Submit stamps payload with the next sequence number and enqueues it.
func (m *Manager) Submit(payload []byte, source string) (model.Delivery, bool) {
	return m.SubmitAcked(payload, source, nil)
}

// SubmitAcked is Submit for payloads whose transport expects an
// acknowledgement once processing is settled.
func (m *Manager) SubmitAcked(payload []byte, source string, ack model.Acknowledger) (model.Delivery, bool) {
	d := model.Delivery{
		Payload:    payload,
		Source:     source,
		Sequence:   m.seq.Next(),
		ReceivedAt: time.Now().UTC(),
		Acker:      ack,
	}
	return d, m.q.Enqueue(d)
}

// BacklogSize returns pending items in the queue.
func (m *Manager) BacklogSize() int { return m.q.BacklogSize() }

// BacklogAge returns the wait time of the oldest backlog delivery.
func (m *Manager) BacklogAge() time.Duration { return m.q.BacklogAge() }

// QueueDepth returns backlog plus buffered output items.
func (m *Manager) QueueDepth() int { return m.q.QueueDepth() }

// WorkerCount returns the current number of workers.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workerCancels)
}

// IsShuttingDown reports whether new enqueues are rejected.
func (m *Manager) IsShuttingDown() bool { return m.q.IsShuttingDown() }

// CloseIntake disallows future enqueues.
func (m *Manager) CloseIntake() { m.q.CloseIntake() }

// QueueMetrics exposes the underlying queue metrics.
func (m *Manager) QueueMetrics() (enq, proc uint64, backlog, depth int) {
	return m.q.Metrics()
}

// DrainUntil blocks until the queue is fully drained or context is done.
func (m *Manager) DrainUntil(ctx context.Context) bool {
	for {
		enq, proc, backlog, depth := m.q.Metrics()
		if backlog == 0 && depth == 0 && enq == proc {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}
