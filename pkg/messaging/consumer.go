package messaging

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/baechuer/event-booking/pkg/fault"
	"github.com/baechuer/event-booking/pkg/metrics"
	"github.com/baechuer/event-booking/pkg/retry"
	"github.com/rs/zerolog"
)

const (
	outcomeAcked    = "acked"
	outcomeDead     = "dead_lettered"
	outcomeRequeued = "requeued"
)

type ConsumerConfig struct {
	Service    string
	Source     Source
	DeadLetter DeadLetterSink
	// Policy re-runs a whole handler. Its filter defaults to fault.TransientOrConflict.
	Policy   retry.Policy
	Registry *Registry
	Logger   zerolog.Logger
	// PrefetchPerPartition times the partition count is the broker prefetch.
	// Each partition queue is sized to the whole prefetch.
	PrefetchPerPartition int
	// DeadLetterTimeout bounds a single dead-letter hand-off.
	DeadLetterTimeout time.Duration
}

// Consumer creates subscriptions that share one source, dead-letter sink and
// record-level retry policy.
type Consumer struct {
	cfg  ConsumerConfig
	lg   zerolog.Logger
	errs chan error
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	if cfg.PrefetchPerPartition < 1 {
		cfg.PrefetchPerPartition = 4
	}
	if cfg.DeadLetterTimeout <= 0 {
		cfg.DeadLetterTimeout = 5 * time.Second
	}
	if cfg.Policy.Retryable == nil {
		cfg.Policy.Retryable = fault.TransientOrConflict
	}
	if cfg.Policy.Name == "" {
		cfg.Policy.Name = "record"
	}
	return &Consumer{
		cfg:  cfg,
		lg:   cfg.Logger.With().Str("component", "consumer").Logger(),
		errs: make(chan error, 16),
	}
}

// Errors reports subscriptions whose source failed for good.
func (c *Consumer) Errors() <-chan error { return c.errs }

// Subscribe starts consuming topic with concurrency sequential partitions and
// registers the subscription for shutdown.
func (c *Consumer) Subscribe(topic string, concurrency int, h Handler) (*Subscription, error) {
	if topic == "" {
		return nil, errors.New("subscribe: empty topic")
	}
	if h == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", topic)
	}
	if concurrency < 1 {
		concurrency = 1
	}

	consumeCtx, stopConsume := context.WithCancel(context.Background())
	handlerCtx, cancelHandlers := context.WithCancel(context.Background())

	s := &Subscription{
		c:              c,
		topic:          topic,
		handler:        h,
		lg:             c.lg.With().Str("topic", topic).Logger(),
		parts:          make([]chan Delivery, concurrency),
		consumeCtx:     consumeCtx,
		stopConsume:    stopConsume,
		handlerCtx:     handlerCtx,
		cancelHandlers: cancelHandlers,
		consumeDone:    make(chan struct{}),
		workersDone:    make(chan struct{}),
	}
	// The broker never has more than the total prefetch unacked, so a
	// partition queue that can hold all of it never blocks dispatch.
	prefetch := c.cfg.PrefetchPerPartition * concurrency
	for i := range s.parts {
		s.parts[i] = make(chan Delivery, prefetch)
	}

	s.start()
	if c.cfg.Registry != nil {
		c.cfg.Registry.Register("subscription:"+topic, s)
	}
	return s, nil
}

// Subscription is one topic being consumed. Records with the same key always
// land on the same partition, and a partition handles one record at a time.
type Subscription struct {
	c       *Consumer
	topic   string
	handler Handler
	lg      zerolog.Logger

	parts []chan Delivery
	wg    sync.WaitGroup

	consumeCtx     context.Context
	stopConsume    context.CancelFunc
	handlerCtx     context.Context
	cancelHandlers context.CancelFunc

	draining    atomic.Bool
	consumeDone chan struct{}
	workersDone chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) Partitions() int { return len(s.parts) }

func (s *Subscription) start() {
	for i := range s.parts {
		s.wg.Add(1)
		go s.work(i)
	}
	go func() {
		s.wg.Wait()
		close(s.workersDone)
	}()

	go func() {
		defer close(s.consumeDone)
		prefetch := s.c.cfg.PrefetchPerPartition * len(s.parts)
		err := s.c.cfg.Source.Consume(s.consumeCtx, s.topic, prefetch, s.dispatch)
		if err != nil && s.consumeCtx.Err() == nil {
			s.lg.Error().Err(err).Msg("subscription stopped")
			select {
			case s.c.errs <- fmt.Errorf("subscription %s: %w", s.topic, err):
			default:
			}
		}
	}()

	s.lg.Info().Int("partitions", len(s.parts)).Msg("subscription started")
}

// PartitionFor maps a key onto one of n partitions.
func PartitionFor(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (s *Subscription) dispatch(d Delivery) {
	rec := d.Record()
	idx := PartitionFor(rec.Key, len(s.parts))

	if s.consumeCtx.Err() != nil {
		s.requeue(d, rec, "closing")
		return
	}

	metrics.AddQueued(s.c.cfg.Service, s.topic, 1)
	select {
	case s.parts[idx] <- partitioned{Delivery: d, partition: idx}:
	case <-s.consumeCtx.Done():
		metrics.AddQueued(s.c.cfg.Service, s.topic, -1)
		s.requeue(d, rec, "closing")
	}
}

func (s *Subscription) work(idx int) {
	defer s.wg.Done()
	for d := range s.parts[idx] {
		metrics.AddQueued(s.c.cfg.Service, s.topic, -1)
		if s.draining.Load() {
			s.requeue(d, d.Record(), "not started before close")
			continue
		}
		s.process(d)
	}
}

func (s *Subscription) process(d Delivery) {
	rec := d.Record()
	start := time.Now()
	lg := s.lg.With().
		Str("key", rec.Key).
		Str("message_id", rec.ID()).
		Int("partition", rec.Partition).
		Int64("offset", rec.Offset).
		Logger()
	ctx := lg.WithContext(s.handlerCtx)

	err := s.c.cfg.Policy.Do(ctx, func(ctx context.Context) error {
		return s.handler.Handle(ctx, rec)
	})

	switch {
	case err == nil:
		if aerr := d.Ack(); aerr != nil {
			lg.Warn().Err(aerr).Msg("ack failed")
		}
		metrics.RecordConsumed(s.c.cfg.Service, s.topic, outcomeAcked, time.Since(start))

	case s.handlerCtx.Err() != nil:
		// Cut off by Close: the broker gets it back instead of the dead-letter topic.
		s.requeue(d, rec, "shutdown")
		metrics.RecordConsumed(s.c.cfg.Service, s.topic, outcomeRequeued, time.Since(start))

	default:
		reason := fault.Classify(err).String()
		lg.Error().Err(err).Str("reason", reason).Msg("handler failed; dead-lettering")

		dctx, cancel := context.WithTimeout(context.Background(), s.c.cfg.DeadLetterTimeout)
		if s.c.cfg.DeadLetter != nil {
			if derr := s.c.cfg.DeadLetter.Send(dctx, rec, reason, err); derr != nil {
				lg.Error().Err(derr).Msg("dead-letter publish failed; acking anyway")
			}
		}
		cancel()

		if aerr := d.Ack(); aerr != nil {
			lg.Warn().Err(aerr).Msg("ack after dead-letter failed")
		}
		metrics.RecordConsumed(s.c.cfg.Service, s.topic, outcomeDead, time.Since(start))
	}
}

func (s *Subscription) requeue(d Delivery, rec Record, why string) {
	if err := d.Nack(true); err != nil {
		s.lg.Warn().Err(err).Str("key", rec.Key).Str("why", why).Msg("nack failed")
	}
}

// Close stops taking records, requeues the ones still waiting and lets the
// in-flight ones finish. When ctx expires first their handlers are cancelled
// and the records requeued.
func (s *Subscription) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.stopConsume()
		<-s.consumeDone

		s.draining.Store(true)
		for _, p := range s.parts {
			close(p)
		}

		select {
		case <-s.workersDone:
		case <-ctx.Done():
			s.lg.Warn().Msg("close deadline reached; cancelling in-flight handlers")
			s.cancelHandlers()
			<-s.workersDone
			s.closeErr = ctx.Err()
		}
		s.cancelHandlers()
		s.lg.Info().Msg("subscription closed")
	})
	return s.closeErr
}

// partitioned stamps the partition index onto a delivery's record.
type partitioned struct {
	Delivery
	partition int
}

func (p partitioned) Record() Record {
	r := p.Delivery.Record()
	r.Partition = p.partition
	return r
}
