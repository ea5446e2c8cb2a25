package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"pettycash/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueClosureReport = "jobs:closure_report"

	JobClosureReport = "closure_report"

	// MaxAttempts is how many times a job runs before it is dead-lettered.
	MaxAttempts = 3

	// pollTimeout bounds one BRPOP so workers notice shutdown.
	pollTimeout = 5 * time.Second
	// popBackoff is the pause after a failed BRPOP, e.g. while Redis is down.
	popBackoff = 2 * time.Second

	reasonMalformed = "malformed job"
	reasonNoHandler = "no handler for job type"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	// Redrives counts how often the job came back from the DLQ.
	Redrives int `json:"redrives,omitempty"`
}

// ClosureReportPayload identifies the closure to render and mail.
type ClosureReportPayload struct {
	ClosureID string `json:"closure_id"`
}

// Handler processes one job payload. A returned error schedules a retry.
type Handler interface {
	Process(ctx context.Context, payload json.RawMessage) error
}

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// EnqueueClosureReport schedules the PDF report of a committed closure.
func (d *Dispatcher) EnqueueClosureReport(ctx context.Context, closureID uuid.UUID) error {
	return d.enqueue(ctx, QueueClosureReport, JobClosureReport, ClosureReportPayload{ClosureID: closureID.String()})
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(Job{Type: jobType, Payload: data})
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// jobSink receives jobs that failed: back to the queue, or to the DLQ.
type jobSink interface {
	Requeue(ctx context.Context, queue string, job Job) error
	DeadLetter(ctx context.Context, queue string, job Job, reason string)
}

type redisSink struct{ rdb *redis.Client }

func (s redisSink) Requeue(ctx context.Context, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.rdb.LPush(ctx, queue, encoded).Err()
}

func (s redisSink) DeadLetter(ctx context.Context, queue string, job Job, reason string) {
	SendToDLQ(ctx, s.rdb, queue, job, reason)
}

// jobSource blocks for the next raw job. A timeout yields an empty result.
type jobSource interface {
	Pop(ctx context.Context, timeout time.Duration, queues ...string) ([]string, error)
}

type redisSource struct{ rdb *redis.Client }

func (s redisSource) Pop(ctx context.Context, timeout time.Duration, queues ...string) ([]string, error) {
	result, err := s.rdb.BRPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return result, err
}

// Pool runs N goroutines blocking on BRPOP over the registered queues.
type Pool struct {
	source   jobSource
	backoff  time.Duration
	sink     jobSink
	handlers map[string]Handler
	queues   []string
	metrics  *metrics.Metrics
	wg       sync.WaitGroup
}

func NewPool(rdb *redis.Client) *Pool {
	return &Pool{
		source:   redisSource{rdb: rdb},
		backoff:  popBackoff,
		sink:     redisSink{rdb: rdb},
		handlers: map[string]Handler{},
	}
}

// SetMetrics reports job outcomes to m.
func (p *Pool) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Register binds jobType, read from queue, to h.
func (p *Pool) Register(queue, jobType string, h Handler) {
	p.handlers[jobType] = h
	for _, q := range p.queues {
		if q == queue {
			return
		}
	}
	p.queues = append(p.queues, queue)
}

// Start launches numWorkers goroutines; they stop when ctx is cancelled.
func (p *Pool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Info().Int("workers", numWorkers).Strs("queues", p.queues).Msg("worker pool started")
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		default:
		}

		result, err := p.source.Pop(ctx, pollTimeout, p.queues...)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Warn().Err(err).Int("worker", id).Msg("dequeue failed")
			select {
			case <-ctx.Done():
			case <-time.After(p.backoff):
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		p.process(ctx, result[0], result[1])
	}
}

// process runs one raw job. Failures are requeued with an incremented
// attempt count until MaxAttempts, then dead-lettered.
func (p *Pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		quoted, _ := json.Marshal(raw)
		p.sink.DeadLetter(ctx, queue, Job{Type: "unknown", Payload: quoted}, reasonMalformed)
		return
	}

	h, ok := p.handlers[job.Type]
	if !ok {
		p.sink.DeadLetter(ctx, queue, job, reasonNoHandler)
		return
	}

	job.Attempts++
	err := h.Process(ctx, job.Payload)
	if err == nil {
		p.metrics.JobFinished(job.Type, metrics.JobSucceeded)
		return
	}

	log.Warn().Err(err).
		Str("type", job.Type).
		Int("attempt", job.Attempts).
		Msg("job failed")

	if job.Attempts >= MaxAttempts {
		p.sink.DeadLetter(ctx, queue, job, err.Error())
		p.metrics.JobFinished(job.Type, metrics.JobDeadLetter)
		return
	}
	if reqErr := p.sink.Requeue(ctx, queue, job); reqErr != nil {
		log.Error().Err(reqErr).Str("type", job.Type).Msg("failed to requeue job")
		p.sink.DeadLetter(ctx, queue, job, err.Error())
		p.metrics.JobFinished(job.Type, metrics.JobDeadLetter)
		return
	}
	p.metrics.JobFinished(job.Type, metrics.JobRetried)
}
