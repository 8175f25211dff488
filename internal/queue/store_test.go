package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testhelpers "github.com/aristath/tracker/internal/testing"
)

func newTestStore(t *testing.T, opts Options) (*Store, func()) {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "jobs", Schema)
	return NewStore(db.Conn(), opts, zerolog.Nop()), cleanup
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = time.Minute
	opts.MaxAttempts = 3
	return opts
}

func TestEnqueueCoalescesDuplicates(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	created, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "b1", nil)
	require.NoError(t, err)
	assert.True(t, created)

	// Same active work item: coalesced.
	created, err = store.Enqueue(QueuePrices, "refresh_price", "sec-1", "b2", nil)
	require.NoError(t, err)
	assert.False(t, created)

	// Different security: new job.
	created, err = store.Enqueue(QueuePrices, "refresh_price", "sec-2", "b2", nil)
	require.NoError(t, err)
	assert.True(t, created)

	stats, err := store.Stats(QueuePrices)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Queued)
}

func TestEnqueueAllowedAfterCompletion(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	require.NoError(t, store.Ack(job.ID))

	created, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)
	assert.True(t, created, "finished jobs do not block re-enqueueing")
}

func TestClaimOrderAndStateTransitions(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)
	_, err = store.Enqueue(QueuePrices, "refresh_price", "sec-2", "", nil)
	require.NoError(t, err)

	first, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	assert.Equal(t, "sec-1", first.SecurityID, "oldest job claimed first")
	assert.Equal(t, StateRunning, first.State)
	assert.Equal(t, 1, first.Attempts)

	second, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	assert.Equal(t, "sec-2", second.SecurityID)

	_, err = store.Claim(QueuePrices)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestClaimIgnoresOtherQueues(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueueDividends, "refresh_dividends", "sec-1", "", nil)
	require.NoError(t, err)

	_, err = store.Claim(QueuePrices)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestNackSchedulesRetryWithDelay(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)

	require.NoError(t, store.Nack(job.ID, errors.New("provider down"), false))

	// Backoff keeps the job invisible until the retry delay has passed.
	_, err = store.Claim(QueuePrices)
	assert.ErrorIs(t, err, ErrNoJob)

	stored, err := store.GetByID(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, stored.State)
	assert.Equal(t, "provider down", stored.LastError)
	assert.True(t, stored.AvailableAt.After(time.Now().Add(30*time.Second)))
}

func TestNackDeadLettersAfterMaxAttempts(t *testing.T) {
	opts := testOptions()
	opts.RetryDelay = 0
	store, cleanup := newTestStore(t, opts)
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	for i := 0; i < opts.MaxAttempts; i++ {
		job, err := store.Claim(QueuePrices)
		require.NoError(t, err, "attempt %d", i+1)
		require.NoError(t, store.Nack(job.ID, errors.New("still failing"), false))
	}

	_, err = store.Claim(QueuePrices)
	assert.ErrorIs(t, err, ErrNoJob)

	dead, err := store.ListDead(10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "sec-1", dead[0].SecurityID)
	assert.Equal(t, opts.MaxAttempts, dead[0].Attempts)
	assert.Equal(t, "still failing", dead[0].LastError)
}

func TestNackPermanentDeadLettersImmediately(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	require.NoError(t, store.Nack(job.ID, errors.New("unknown symbol"), true))

	dead, err := store.ListDead(10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempts, "no retries on permanent failure")
}

func TestRequeueStaleRecoversRunningJobs(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	claimed, err := store.Claim(QueuePrices)
	require.NoError(t, err)

	// Simulates a crash between claim and ack.
	n, err := store.RequeueStale()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recovered, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, recovered.ID, "interrupted job is redelivered")
	assert.Equal(t, 2, recovered.Attempts)
}

func TestRetryDead(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)

	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	require.NoError(t, store.Nack(job.ID, errors.New("bad"), true))

	require.NoError(t, store.RetryDead(job.ID))

	recovered, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	assert.Equal(t, job.ID, recovered.ID)
	assert.Equal(t, 1, recovered.Attempts, "retry resets the attempt count")

	// Only dead jobs can be retried.
	assert.Error(t, store.RetryDead(job.ID))
}

func TestListBatch(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "batch-1", nil)
	require.NoError(t, err)
	_, err = store.Enqueue(QueuePrices, "refresh_price", "sec-2", "batch-1", nil)
	require.NoError(t, err)
	_, err = store.Enqueue(QueuePrices, "refresh_price", "sec-3", "batch-2", nil)
	require.NoError(t, err)

	jobs, err := store.ListBatch("batch-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestPayloadRoundTrip(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	type payload struct {
		Symbol string `msgpack:"symbol"`
		Limit  int    `msgpack:"limit"`
	}

	encoded, err := EncodePayload(payload{Symbol: "AAPL", Limit: 7})
	require.NoError(t, err)

	_, err = store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", encoded)
	require.NoError(t, err)

	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)

	var got payload
	require.NoError(t, job.DecodePayload(&got))
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 7, got.Limit)
}

func TestPruneDone(t *testing.T) {
	store, cleanup := newTestStore(t, testOptions())
	defer cleanup()

	_, err := store.Enqueue(QueuePrices, "refresh_price", "sec-1", "", nil)
	require.NoError(t, err)
	job, err := store.Claim(QueuePrices)
	require.NoError(t, err)
	require.NoError(t, store.Ack(job.ID))

	n, err := store.PruneDone(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := store.Stats(QueuePrices)
	require.NoError(t, err)
	assert.Zero(t, stats.Done)
}
