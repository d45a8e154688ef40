package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	want      int
	done      chan struct{}
}

func newFakeReader(want int, msgs ...kafka.Message) *fakeReader {
	return &fakeReader{msgs: msgs, want: want, done: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	if len(r.committed) == r.want {
		close(r.done)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) isCommitted(partition int, offset int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.committed {
		if m.Partition == partition && m.Offset == offset {
			return true
		}
	}
	return false
}

func msg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "payments.notifications", Partition: partition, Offset: offset}
}

func TestConsumerStopsAtExhaustedMessage(t *testing.T) {
	r := newFakeReader(-1, msg(0, 0), msg(0, 1), msg(0, 2))
	c := &Consumer{r: r, workers: 3, backoff: time.Millisecond, log: zerolog.Nop()}

	var mu sync.Mutex
	seen := map[int64]int{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[m.Offset]++
		if m.Offset == 1 {
			return errors.New("store unavailable")
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Start(ctx, h)
	if err == nil || ctx.Err() != nil {
		t.Fatalf("Start = %v, ctx = %v; want handler failure", err, ctx.Err())
	}

	if !r.isCommitted(0, 0) {
		t.Error("offset 0 not committed")
	}
	if r.isCommitted(0, 1) || r.isCommitted(0, 2) {
		t.Error("committed past the failed offset")
	}
	mu.Lock()
	defer mu.Unlock()
	if seen[1] != maxAttempts {
		t.Errorf("offset 1 attempts = %d, want %d", seen[1], maxAttempts)
	}
	if seen[2] != 0 {
		t.Errorf("offset 2 handled %d times after the failure", seen[2])
	}
}

func TestConsumerKeepsPartitionOrder(t *testing.T) {
	var msgs []kafka.Message
	for off := int64(0); off < 5; off++ {
		for p := 0; p < 4; p++ {
			msgs = append(msgs, msg(p, off))
		}
	}
	r := newFakeReader(len(msgs), msgs...)
	c := &Consumer{r: r, workers: 2, backoff: time.Millisecond, log: zerolog.Nop()}

	var mu sync.Mutex
	last := map[int]int64{0: -1, 1: -1, 2: -1, 3: -1}
	flaked := false
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		if m.Partition == 2 && m.Offset == 3 && !flaked {
			flaked = true
			return errors.New("transient")
		}
		if m.Offset <= last[m.Partition] {
			t.Errorf("partition %d: offset %d after %d", m.Partition, m.Offset, last[m.Partition])
		}
		last[m.Partition] = m.Offset
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("not every message was committed")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Start after cancel = %v", err)
	}
	for p := 0; p < 4; p++ {
		for off := int64(0); off < 5; off++ {
			if !r.isCommitted(p, off) {
				t.Errorf("partition %d offset %d not committed", p, off)
			}
		}
	}
}
