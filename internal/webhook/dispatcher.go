package webhook

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cardvault/storefront/internal/observability"
	"github.com/cardvault/storefront/internal/reconciliation"
)

type ReconcilerAPI interface {
	Reconcile(ctx context.Context, paymentID string) reconciliation.Result
}

// Mode tells the caller how a notification was handed off.
type Mode string

const (
	ModeQueued Mode = "queued"
	ModeInline Mode = "inline"
)

// Job carries the request context values (trace, logger) but not its
// cancellation.
type Job struct {
	PaymentID string
	ctx       context.Context
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing notification", "worker_id", w.ID, "payment_id", job.PaymentID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type DispatcherConfig struct {
	Workers    int
	QueueSize  int
	AckTimeout time.Duration
	JobTimeout time.Duration
}

// Dispatcher hands payment ids to a bounded worker pool so the webhook can
// acknowledge immediately. With no workers, or when the queue is full, the
// reconciliation runs inline; a notification is never dropped.
type Dispatcher struct {
	reconciler ReconcilerAPI
	logger     *slog.Logger

	workers    int
	ackTimeout time.Duration
	jobTimeout time.Duration

	jobQueue   chan Job
	workerPool chan chan Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	dispatched sync.WaitGroup
	once       sync.Once

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(reconciler ReconcilerAPI, config DispatcherConfig, logger *slog.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	ackTimeout := config.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 5 * time.Second
	}
	jobTimeout := config.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	workers := config.Workers
	if workers < 0 {
		workers = 0
	}

	d := &Dispatcher{
		reconciler: reconciler,
		logger:     logger,
		workers:    workers,
		ackTimeout: ackTimeout,
		jobTimeout: jobTimeout,
		ctx:        ctx,
		cancel:     cancel,
	}
	if workers > 0 {
		d.jobQueue = make(chan Job, queueSize)
		d.workerPool = make(chan chan Job, workers)
	}
	return d
}

func (d *Dispatcher) Start() {
	if d.workers == 0 {
		d.logger.Info("webhook dispatcher running inline", "ack_timeout", d.ackTimeout)
		return
	}

	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.process)
		}

		d.wg.Add(1)
		go d.dispatch()

		d.logger.Info("webhook dispatcher started",
			"workers", d.workers,
			"queue_size", cap(d.jobQueue))
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for job := range d.jobQueue {
		observability.SetDispatchQueueDepth(len(d.jobQueue))
		select {
		case jobChannel := <-d.workerPool:
			select {
			case jobChannel <- job:
			case <-d.ctx.Done():
				d.process(job)
			}
		case <-d.ctx.Done():
			d.process(job)
		}
	}
}

// Submit reconciles paymentID now or later and reports which.
func (d *Dispatcher) Submit(ctx context.Context, paymentID string) Mode {
	job := Job{PaymentID: paymentID, ctx: context.WithoutCancel(ctx)}

	if d.workers > 0 {
		d.mu.RLock()
		if !d.closed {
			// counted before the send so a worker can never finish it first
			d.dispatched.Add(1)
			select {
			case d.jobQueue <- job:
				d.mu.RUnlock()
				observability.SetDispatchQueueDepth(len(d.jobQueue))
				return ModeQueued
			default:
				d.dispatched.Done()
				d.logger.Warn("dispatch queue full, reconciling inline",
					"payment_id", paymentID,
					"queue_capacity", cap(d.jobQueue))
			}
		}
		d.mu.RUnlock()
	}

	d.runInline(ctx, paymentID)
	return ModeInline
}

func (d *Dispatcher) runInline(ctx context.Context, paymentID string) {
	ctx, cancel := context.WithTimeout(ctx, d.ackTimeout)
	defer cancel()
	res := d.reconciler.Reconcile(ctx, paymentID)
	d.logResult(res)
}

func (d *Dispatcher) process(job Job) {
	defer d.dispatched.Done()

	ctx, cancel := context.WithTimeout(job.ctx, d.jobTimeout)
	defer cancel()
	stop := context.AfterFunc(d.ctx, cancel)
	defer stop()

	res := d.reconciler.Reconcile(ctx, job.PaymentID)
	d.logResult(res)
}

func (d *Dispatcher) logResult(res reconciliation.Result) {
	d.logger.Debug("notification reconciled",
		"payment_id", res.PaymentID,
		"outcome", res.Outcome,
		"order_id", res.OrderID)
}

// Shutdown stops accepting jobs, lets queued ones finish, then stops the
// workers. If ctx expires first, jobs still queued run with a cancelled
// context and fail their lookup, leaving them to gateway redelivery.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d.workers == 0 {
		return nil
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobQueue)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.dispatched.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	d.cancel()
	d.wg.Wait()
	d.logger.Info("webhook dispatcher stopped")
	return err
}
