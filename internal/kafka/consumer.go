package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Handler must return nil only when the message is done with and its offset
// may be committed. A non-nil error leaves it for redelivery.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	backoff time.Duration
	log     zerolog.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log zerolog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: 200 * time.Millisecond, log: log}
}

// Start dispatches messages to the worker pool until parent is cancelled or
// the reader fails. A partition always lands on the same worker, so its
// offsets are handled and committed in order. A message that exhausts its
// attempts stops the consumer without committing it or anything after it;
// the returned error tells the caller to restart from the committed offset.
func (c *Consumer) Start(parent context.Context, h Handler) error {
	defer c.r.Close()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := c.handle(ctx, h, m); err != nil {
					if ctx.Err() == nil {
						c.log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("handler failed, stopping consumer")
						cancel(errors.Wrapf(err, "partition %d offset %d", m.Partition, m.Offset))
					}
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error().Err(err).Int64("offset", m.Offset).Msg("commit failed")
				}
			}
		}(lanes[i])
	}
	defer func() {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stopCause(parent, ctx)
			}
			return errors.Wrap(err, "fetch message")
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return stopCause(parent, ctx)
		}
	}
}

// stopCause is nil for a normal shutdown and the handler failure otherwise.
func stopCause(parent, ctx context.Context) error {
	if parent.Err() != nil {
		return nil
	}
	return context.Cause(ctx)
}

const maxAttempts = 5

// handle retries h with linear backoff.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil || attempt == maxAttempts {
			return err
		}
		c.log.Warn().Err(err).Int("attempt", attempt).Int64("offset", m.Offset).Msg("handler failed, retrying")
		select {
		case <-time.After(time.Duration(attempt) * c.backoff):
		case <-ctx.Done():
			return err
		}
	}
}
