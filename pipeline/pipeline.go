// Package pipeline pumps telemetry records through a shared ring buffer:
// a set of producer goroutines frames synthetic records into the arena
// while one consumer drains them into a Sink. Producers shed load through
// the ring's backpressure signal and retry with exponential backoff; the
// consumer recovers from corrupt frames by discarding them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanet-platform/telering/ringbuf"
)

// wakeInterval is how often the idle consumer re-checks the ring for
// newly committed frames.
const wakeInterval = time.Millisecond

// Option is a functional option for the pipeline.
type Option func(*Pipeline)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

// Pipeline owns the ring and the goroutines pumping records through it.
type Pipeline struct {
	cfg  *Config
	buf  *ringbuf.Buffer
	sink Sink
	log  *zap.SugaredLogger
}

// NewPipeline creates the ring arena and wires the pump around it.
func NewPipeline(cfg *Config, sink Sink, opts ...Option) (*Pipeline, error) {
	if cfg.Pump.Producers < 1 {
		return nil, fmt.Errorf("at least one producer required, got %d", cfg.Pump.Producers)
	}
	if cfg.Pump.PayloadSize < recordHeaderSize {
		return nil, fmt.Errorf("payload size %s cannot hold a record", cfg.Pump.PayloadSize)
	}
	if cfg.Pump.PayloadSize > ringbuf.MaxPayload {
		return nil, fmt.Errorf("payload size %s exceeds %s", cfg.Pump.PayloadSize, ringbuf.MaxPayload)
	}
	if sink == nil {
		return nil, errors.New("nil sink")
	}

	p := &Pipeline{
		cfg:  cfg,
		sink: sink,
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ringOpts := []ringbuf.Option{ringbuf.WithLogger(p.log.Desugar())}
	if cfg.Ring.BackpressureThreshold > 0 {
		ringOpts = append(ringOpts, ringbuf.WithBackpressureThreshold(cfg.Ring.BackpressureThreshold))
	}

	buf, err := ringbuf.New(cfg.Ring.Capacity, ringOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ring buffer: %w", err)
	}
	p.buf = buf

	return p, nil
}

// Buffer exposes the underlying ring for stats and state inspection.
func (p *Pipeline) Buffer() *ringbuf.Buffer {
	return p.buf
}

// Close releases the ring arena. All borrowed payloads must be gone.
func (p *Pipeline) Close() error {
	return p.buf.Close()
}

// Run pumps records until every producer finished and the consumer
// drained their output, or until the context is cancelled. With
// Pump.Messages zero it runs until cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)

	for tid := range p.cfg.Pump.Producers {
		wg.Go(func() error {
			return p.produce(ctx, uint32(tid))
		})
	}
	wg.Go(func() error {
		return p.consume(ctx)
	})

	return wg.Wait()
}

func (p *Pipeline) produce(ctx context.Context, tid uint32) error {
	payload := make([]byte, p.cfg.Pump.PayloadSize)
	for i := range payload {
		payload[i] = byte(tid)
	}

	retry := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Microsecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Millisecond,
	}

	for seq := uint64(0); p.cfg.Pump.Messages == 0 || seq < uint64(p.cfg.Pump.Messages); seq++ {
		encodeRecord(payload, tid, seq)

		retry.Reset()
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			err := p.buf.Write(payload)
			switch {
			case err == nil:
				return struct{}{}, nil
			case errors.Is(err, ringbuf.ErrFull), errors.Is(err, ringbuf.ErrBackpressure):
				return struct{}{}, err
			default:
				return struct{}{}, backoff.Permanent(err)
			}
		}, backoff.WithBackOff(retry))
		if err != nil {
			return fmt.Errorf("producer %d seq %d: %w", tid, seq, err)
		}
	}

	p.log.Debugw("producer finished", zap.Uint32("producer", tid))
	return nil
}

func (p *Pipeline) consume(ctx context.Context) error {
	var total int
	if p.cfg.Pump.Messages > 0 {
		total = p.cfg.Pump.Producers * p.cfg.Pump.Messages
	}

	ticker := time.NewTicker(wakeInterval)
	defer ticker.Stop()

	delivered := 0
	for {
		msg, err := p.buf.Read()
		switch {
		case err == nil:
			if err := p.sink.Consume(msg); err != nil {
				return fmt.Errorf("sink: %w", err)
			}
			delivered++
			if total > 0 && delivered == total {
				p.log.Debugw("consumer drained all records", zap.Int("delivered", delivered))
				return nil
			}

		case errors.Is(err, ringbuf.ErrEmpty):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

		case errors.Is(err, ringbuf.ErrCorrupted):
			p.log.Warnw("discarding corrupt frame", zap.Error(err))
			if err := p.buf.Discard(); err != nil && !errors.Is(err, ringbuf.ErrEmpty) {
				return fmt.Errorf("discard: %w", err)
			}

		default:
			return fmt.Errorf("ring read: %w", err)
		}
	}
}
