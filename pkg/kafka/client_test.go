package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kazakh-hub/pkg/events"
)

type fakeProcessor struct {
	err error
	// failFirst 让前 n 次调用失败
	failFirst int
	calls     int
}

func (p *fakeProcessor) Process(context.Context, events.RecordEvent) error {
	p.calls++
	if p.calls <= p.failFirst {
		return errors.New("index unavailable")
	}
	return p.err
}

type sleepLog struct{ delays []time.Duration }

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type memAttempts struct {
	counts map[string]int64
	err    error
}

func (m *memAttempts) Incr(_ context.Context, key string) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memAttempts) Reset(_ context.Context, key string) error {
	delete(m.counts, key)
	return nil
}

func eventBytes(t *testing.T, id string) []byte {
	t.Helper()
	b, err := json.Marshal(events.RecordEvent{Type: events.RecordCreated, RecordID: id})
	require.NoError(t, err)
	return b
}

func TestHandleMessage_SuccessCommitsAndResets(t *testing.T) {
	attempts := &memAttempts{counts: map[string]int64{attemptsKey("r1"): 2}}
	p := &fakeProcessor{}

	assert.True(t, handleMessage(context.Background(), eventBytes(t, "r1"), p, attempts))
	assert.Equal(t, 1, p.calls)
	assert.NotContains(t, attempts.counts, attemptsKey("r1"))
}

func TestHandleMessage_FailureCommitsAfterMaxAttempts(t *testing.T) {
	attempts := &memAttempts{counts: map[string]int64{}}
	p := &fakeProcessor{err: errors.New("es down")}
	msg := eventBytes(t, "r1")

	assert.False(t, handleMessage(context.Background(), msg, p, attempts))
	assert.False(t, handleMessage(context.Background(), msg, p, attempts))
	assert.True(t, handleMessage(context.Background(), msg, p, attempts))
	assert.Equal(t, 3, p.calls)
}

func TestHandleMessage_CounterFailureDoesNotCommit(t *testing.T) {
	attempts := &memAttempts{counts: map[string]int64{}, err: errors.New("redis down")}
	p := &fakeProcessor{err: errors.New("es down")}

	assert.False(t, handleMessage(context.Background(), eventBytes(t, "r1"), p, attempts))
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	p := &fakeProcessor{}
	assert.True(t, handleMessage(context.Background(), []byte("{not json"), p, &memAttempts{counts: map[string]int64{}}))
	assert.Zero(t, p.calls)
}

func TestProcessMessage_RetriesSameMessageUntilSuccess(t *testing.T) {
	attempts := &memAttempts{counts: map[string]int64{}}
	p := &fakeProcessor{failFirst: 2}
	sleeper := &sleepLog{}

	assert.True(t, processMessage(context.Background(), eventBytes(t, "r1"), p, attempts, sleeper.sleep))
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	assert.NotContains(t, attempts.counts, attemptsKey("r1"))
}

func TestProcessMessage_GivesUpAfterMaxAttempts(t *testing.T) {
	attempts := &memAttempts{counts: map[string]int64{}}
	p := &fakeProcessor{err: errors.New("es down")}
	sleeper := &sleepLog{}

	assert.True(t, processMessage(context.Background(), eventBytes(t, "r1"), p, attempts, sleeper.sleep))
	assert.Equal(t, MaxAttempts, p.calls)
	assert.Len(t, sleeper.delays, MaxAttempts-1)
}

func TestProcessMessage_StopsWithoutCommitWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := &memAttempts{counts: map[string]int64{}, err: errors.New("redis down")}
	p := &fakeProcessor{err: errors.New("es down")}

	assert.False(t, processMessage(ctx, eventBytes(t, "r1"), p, attempts, (&sleepLog{}).sleep))
	assert.Equal(t, 1, p.calls)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(0))
	assert.Equal(t, 16*time.Second, retryDelay(4))
	assert.Equal(t, 30*time.Second, retryDelay(5))
	assert.Equal(t, 30*time.Second, retryDelay(40))
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092"))
}
