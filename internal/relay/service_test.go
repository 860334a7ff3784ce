// Catch-up and live dispatch tests in Beacon.

package relay_test

import (
	"Beacon/internal/entity"
	"Beacon/internal/registry"
	"Beacon/internal/relay"
	"Beacon/internal/test"
	"Beacon/pkg/log"
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Global instance of log.Logger to be used during relay testing.
var logger log.Logger = log.New("test")

// Global context
var ctx context.Context = context.Background()

// rangeCall records the arguments of one catch-up read.
type rangeCall struct {
	channel string
	start   string
	end     string
}

// stubLogRepo stands in for the durable log during relay tests. Tail reads
// are scripted through tailFn, keyed by call number; without a script they
// block until the tailer is cancelled, like an idle log would.
type stubLogRepo struct {
	mu         sync.Mutex
	entries    []entity.LogEntry
	err        error
	rangeCalls []rangeCall
	tailFn     func(ctx context.Context, call int, lastSeen string) ([]entity.LogEntry, string, error)
	tailCalls  []string
}

func (r *stubLogRepo) ReadRange(ctx context.Context, logger log.Logger, channel string, start string, end string) ([]entity.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeCalls = append(r.rangeCalls, rangeCall{channel: channel, start: start, end: end})
	return r.entries, r.err
}

func (r *stubLogRepo) ReadTail(ctx context.Context, logger log.Logger, lastSeen string) ([]entity.LogEntry, string, error) {
	r.mu.Lock()
	r.tailCalls = append(r.tailCalls, lastSeen)
	call := len(r.tailCalls)
	fn := r.tailFn
	r.mu.Unlock()
	if fn == nil {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	return fn(ctx, call, lastSeen)
}

func (r *stubLogRepo) calls() []rangeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rangeCall, len(r.rangeCalls))
	copy(out, r.rangeCalls)
	return out
}

func (r *stubLogRepo) tailCursors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.tailCalls))
	copy(out, r.tailCalls)
	return out
}

// Helper to build a relay service over a fresh registry and in-memory counters.
func setupRelay(repo relay.Repository) (relay.Service, registry.Service, *test.MockMetricsRepo) {
	metricsRepo := &test.MockMetricsRepo{}
	regService := registry.NewService(metricsRepo, logger)
	return relay.NewService(repo, regService, metricsRepo, logger), regService, metricsRepo
}

// Helper to decode one delivered frame into a generic payload.
func decodeFrame(t *testing.T, frame []byte) map[string]interface{} {
	var payload map[string]interface{}
	assert.NoError(t, json.Unmarshal(frame, &payload))
	return payload
}

func TestDispatchFansOutToEveryChannelMember(t *testing.T) {
	relayService, regService, _ := setupRelay(&stubLogRepo{})

	firstTransport := &test.MockTransport{}
	secondTransport := &test.MockTransport{}
	regService.Track(ctx, "bc9e1f", entity.NewConnection("bc9e1f", firstTransport))
	regService.Track(ctx, "bc9e1f", entity.NewConnection("bc9e1f", secondTransport))

	relayService.Dispatch(ctx, []entity.LogEntry{{
		ID:      "1-0",
		Payload: `{"channel_id":"bc9e1f","job_id":"abc","user_id":"u1","status":"done"}`,
	}})

	want := map[string]interface{}{
		"id":         "1-0",
		"channel_id": "bc9e1f",
		"job_id":     "abc",
		"user_id":    "u1",
		"status":     "done",
	}
	for _, transport := range []*test.MockTransport{firstTransport, secondTransport} {
		frames := transport.Frames()
		assert.Len(t, frames, 1)
		assert.Equal(t, want, decodeFrame(t, frames[0]))
	}
}

func TestDispatchPreservesLogOrderWithinChannel(t *testing.T) {
	relayService, regService, _ := setupRelay(&stubLogRepo{})

	transport := &test.MockTransport{}
	regService.Track(ctx, "chan", entity.NewConnection("chan", transport))

	relayService.Dispatch(ctx, []entity.LogEntry{
		{ID: "1-0", Payload: `{"channel_id":"chan","job_id":"a","user_id":"u","status":"running"}`},
		{ID: "1-1", Payload: `{"channel_id":"chan","job_id":"a","user_id":"u","status":"done"}`},
	})

	frames := transport.Frames()
	assert.Len(t, frames, 2)
	assert.Equal(t, "1-0", decodeFrame(t, frames[0])["id"])
	assert.Equal(t, "1-1", decodeFrame(t, frames[1])["id"])
}

func TestDispatchIsolatesOneBrokenSocket(t *testing.T) {
	relayService, regService, metricsRepo := setupRelay(&stubLogRepo{})

	healthy := &test.MockTransport{}
	broken := &test.MockTransport{FailWrites: true}
	alsoHealthy := &test.MockTransport{}
	regService.Track(ctx, "chan", entity.NewConnection("chan", healthy))
	brokenID := regService.Track(ctx, "chan", entity.NewConnection("chan", broken))
	regService.Track(ctx, "chan", entity.NewConnection("chan", alsoHealthy))

	relayService.Dispatch(ctx, []entity.LogEntry{{
		ID:      "2-0",
		Payload: `{"channel_id":"chan","job_id":"j","user_id":"u","status":"done"}`,
	}})

	// The two healthy members still got the payload
	assert.Len(t, healthy.Frames(), 1)
	assert.Len(t, alsoHealthy.Frames(), 1)

	// The broken one was torn down and forgotten
	assert.True(t, broken.Closed())
	assert.NotContains(t, regService.MembersOf(ctx, "chan"), brokenID)
	assert.Len(t, regService.MembersOf(ctx, "chan"), 2)

	counters, _ := metricsRepo.GetMetrics(ctx, logger)
	assert.Equal(t, int64(1), counters.DispatchErrors)
}

func TestDispatchUnregisteredChannelIsNoOp(t *testing.T) {
	relayService, regService, metricsRepo := setupRelay(&stubLogRepo{})

	bystander := &test.MockTransport{}
	regService.Track(ctx, "other-channel", entity.NewConnection("other-channel", bystander))

	relayService.Dispatch(ctx, []entity.LogEntry{{
		ID:      "3-0",
		Payload: `{"channel_id":"nobody-home","job_id":"j","user_id":"u","status":"done"}`,
	}})

	assert.Empty(t, bystander.Frames())
	counters, _ := metricsRepo.GetMetrics(ctx, logger)
	assert.Equal(t, int64(0), counters.DispatchErrors)
}

func TestDispatchSkipsMalformedPayload(t *testing.T) {
	relayService, regService, _ := setupRelay(&stubLogRepo{})

	transport := &test.MockTransport{}
	regService.Track(ctx, "chan", entity.NewConnection("chan", transport))

	relayService.Dispatch(ctx, []entity.LogEntry{
		{ID: "4-0", Payload: `not json at all`},
		{ID: "4-1", Payload: `{"channel_id":"chan","job_id":"j","user_id":"u","status":"done"}`},
	})

	// The malformed entry is skipped, delivery continues with the next one
	frames := transport.Frames()
	assert.Len(t, frames, 1)
	assert.Equal(t, "4-1", decodeFrame(t, frames[0])["id"])
}

func TestCatchupWithoutCursorReadsNothing(t *testing.T) {
	repo := &stubLogRepo{}
	relayService, _, _ := setupRelay(repo)

	conn := entity.NewConnection("chan", &test.MockTransport{})
	relayService.Catchup(ctx, conn, "")

	assert.Empty(t, repo.calls())
}

func TestCatchupReadsFromIncrementedCursor(t *testing.T) {
	repo := &stubLogRepo{entries: []entity.LogEntry{
		{ID: "5-1", Payload: `{"channel_id":"chan","job_id":"j","user_id":"u","status":"done","result_url":"/r/1"}`},
	}}
	relayService, _, _ := setupRelay(repo)

	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)
	relayService.Catchup(ctx, conn, "5-0")

	// The client-supplied cursor is exclusive, the read starts one past it
	calls := repo.calls()
	assert.Equal(t, []rangeCall{{channel: "chan", start: "5-1", end: "+"}}, calls)

	frames := transport.Frames()
	assert.Len(t, frames, 1)
	payload := decodeFrame(t, frames[0])
	assert.Equal(t, "5-1", payload["id"])
	assert.Equal(t, "/r/1", payload["result_url"])
}

// overlapTransport trips when two data writes are in flight at once, which is
// exactly what the underlying websocket transport forbids.
type overlapTransport struct {
	active   int32
	overlaps int32
}

func (t *overlapTransport) WriteMessage(messageType int, data []byte) error {
	if atomic.AddInt32(&t.active, 1) > 1 {
		atomic.AddInt32(&t.overlaps, 1)
	}
	// Hold the writer long enough for an unserialized peer to collide
	time.Sleep(50 * time.Microsecond)
	atomic.AddInt32(&t.active, -1)
	return nil
}

func (t *overlapTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return nil
}

func (t *overlapTransport) Close() error {
	return nil
}

// Helper to fabricate a run of well-formed log entries for one channel.
func makeEntries(channel string, n int) []entity.LogEntry {
	entries := make([]entity.LogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, entity.LogEntry{
			ID:      "1-" + strconv.Itoa(i),
			Payload: `{"channel_id":"` + channel + `","job_id":"j","user_id":"u","status":"done"}`,
		})
	}
	return entries
}

func TestCatchupAndDispatchNeverWriteConcurrently(t *testing.T) {
	entries := makeEntries("chan", 400)
	repo := &stubLogRepo{entries: entries}
	relayService, regService, _ := setupRelay(repo)

	transport := &overlapTransport{}
	conn := entity.NewConnection("chan", transport)
	regService.Track(ctx, "chan", conn)

	// A reconnecting client replays history while the tailer keeps
	// dispatching live entries to the same just-tracked socket
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relayService.Catchup(ctx, conn, "0-0")
	}()
	go func() {
		defer wg.Done()
		relayService.Dispatch(ctx, entries)
	}()
	wg.Wait()

	assert.Equal(t, int32(0), atomic.LoadInt32(&transport.overlaps))
}

func TestTailDispatchesBatchesAndBoundsCatchup(t *testing.T) {
	repo := &stubLogRepo{
		tailFn: func(ctx context.Context, call int, lastSeen string) ([]entity.LogEntry, string, error) {
			if call == 1 {
				return []entity.LogEntry{
					{ID: "2-0", Payload: `{"channel_id":"chan","job_id":"a","user_id":"u","status":"running"}`},
					{ID: "2-1", Payload: `{"channel_id":"chan","job_id":"a","user_id":"u","status":"done"}`},
				}, "2-1", nil
			}
			<-ctx.Done()
			return nil, "", ctx.Err()
		},
	}
	relayService, regService, _ := setupRelay(repo)

	transport := &test.MockTransport{}
	regService.Track(ctx, "chan", entity.NewConnection("chan", transport))

	tailCtx, stopTail := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relayService.Tail(tailCtx)
		close(done)
	}()

	// The first batch reaches the live socket in log order
	assert.Eventually(t, func() bool {
		return len(transport.Frames()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	frames := transport.Frames()
	assert.Equal(t, "2-0", decodeFrame(t, frames[0])["id"])
	assert.Equal(t, "2-1", decodeFrame(t, frames[1])["id"])

	// With a live tip known, catch-up is bounded by it instead of "+"
	conn := entity.NewConnection("chan", &test.MockTransport{})
	relayService.Catchup(ctx, conn, "1-0")
	calls := repo.calls()
	assert.Equal(t, []rangeCall{{channel: "chan", start: "1-1", end: "2-1"}}, calls)

	stopTail()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer never stopped after cancellation")
	}
}

func TestTailAdvancesPastPayloadlessTip(t *testing.T) {
	repo := &stubLogRepo{
		tailFn: func(ctx context.Context, call int, lastSeen string) ([]entity.LogEntry, string, error) {
			if call == 1 {
				// The producer appended a record the repository had to drop,
				// only the raw cursor comes back
				return nil, "9-9", nil
			}
			<-ctx.Done()
			return nil, "", ctx.Err()
		},
	}
	relayService, _, _ := setupRelay(repo)

	tailCtx, stopTail := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relayService.Tail(tailCtx)
		close(done)
	}()

	// The next read must start past the dropped record, not re-read it forever
	assert.Eventually(t, func() bool {
		cursors := repo.tailCursors()
		return len(cursors) >= 2 && cursors[1] == "9-9"
	}, 2*time.Second, 10*time.Millisecond)

	stopTail()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer never stopped after cancellation")
	}
}

func TestTailStopsOnCancelWhileBlocked(t *testing.T) {
	repo := &stubLogRepo{}
	relayService, _, _ := setupRelay(repo)

	tailCtx, stopTail := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relayService.Tail(tailCtx)
		close(done)
	}()

	// Give the tailer a moment to park in its blocking read
	assert.Eventually(t, func() bool {
		return len(repo.tailCursors()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopTail()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer never stopped after cancellation")
	}
}

func TestCatchupReadFailureDegradesToNoReplay(t *testing.T) {
	repo := &stubLogRepo{err: assert.AnError}
	relayService, _, _ := setupRelay(repo)

	transport := &test.MockTransport{}
	conn := entity.NewConnection("chan", transport)
	relayService.Catchup(ctx, conn, "7-0")

	// Failure is swallowed, the connection simply gets no replay
	assert.Len(t, repo.calls(), 1)
	assert.Empty(t, transport.Frames())
}
