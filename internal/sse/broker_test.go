package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncRecorder guards the recorder body, which the handler writes while the
// test reads.
type syncRecorder struct {
	*httptest.ResponseRecorder
	mu sync.Mutex
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func receive(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

// publishAll publishes events and waits until the loop has emitted them.
func publishAll(t *testing.T, b *Broker, events ...Event) {
	t.Helper()
	watch := b.Subscribe()
	defer b.Unsubscribe(watch)
	for _, e := range events {
		b.Publish(e)
	}
	for range events {
		receive(t, watch)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	assert.Equal(t, 0, b.ClientCount())
	ch := b.Subscribe()
	assert.Equal(t, 1, b.ClientCount())
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.ClientCount())
}

func TestPublishFrameFormat(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventCacheCleared, Data: map[string]any{"cpf": "38579754828", "removed": 2}})
	b.Publish(Event{Type: EventCacheCleared, Data: map[string]any{"removed": 0}})

	first := receive(t, ch)
	assert.True(t, strings.HasPrefix(first, "id: 1\nevent: cache.cleared\ndata: "))
	assert.Contains(t, first, `"cpf":"38579754828"`)
	assert.True(t, strings.HasSuffix(first, "\n\n"))

	assert.True(t, strings.HasPrefix(receive(t, ch), "id: 2\n"))
}

func TestPublishChangeCoalescesGraphUpdates(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(EventFamilyImported, map[string]any{"cpf": "1", "imported": 3})
	b.PublishChange(EventRecordUpdated, map[string]any{"cpf": "3"})
	b.PublishChange(EventRecordCreated, map[string]any{"cpf": "2"})

	var graphs []string
	changes := 0
	deadline := time.After(2 * time.Second)
	for changes < 3 || len(graphs) < 2 {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "event: "+EventGraphUpdated) {
				graphs = append(graphs, string(msg))
			} else {
				changes++
			}
		case <-deadline:
			t.Fatalf("timeout: %d changes, %d graph updates", changes, len(graphs))
		}
	}

	// Leading update names the first change, the trailing one folds the rest.
	assert.Contains(t, graphs[0], `{"cpfs":["1"]}`)
	assert.Contains(t, graphs[1], `{"cpfs":["2","3"]}`)

	time.Sleep(300 * time.Millisecond)
	select {
	case msg := <-ch:
		t.Fatalf("unexpected extra event: %s", msg)
	default:
	}
}

func TestPublishChangeWithoutCPF(t *testing.T) {
	b := NewBroker(50 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishChange(EventCacheCleared, map[string]any{"removed": 4})

	assert.Contains(t, receive(t, ch), "event: cache.cleared")
	assert.Contains(t, receive(t, ch), `data: {"cpfs":[]}`)
}

func TestSubscribeFromReplaysHistory(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	publishAll(t, b,
		Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "a"}},
		Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "b"}},
		Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "c"}},
	)

	ch := b.SubscribeFrom(1)
	defer b.Unsubscribe(ch)

	assert.Contains(t, receive(t, ch), "id: 2\n")
	assert.Contains(t, receive(t, ch), "id: 3\n")

	b.Publish(Event{Type: EventRecordDeleted, Data: map[string]string{"cpf": "d"}})
	assert.Contains(t, receive(t, ch), "id: 4\nevent: record.deleted")
}

func TestHistoryIsBounded(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(2))
	defer b.Close()

	events := make([]Event, 5)
	for i := range events {
		events[i] = Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "x"}}
	}
	publishAll(t, b, events...)

	ch := b.SubscribeFrom(1)
	defer b.Unsubscribe(ch)

	assert.Contains(t, receive(t, ch), "id: 4\n")
	assert.Contains(t, receive(t, ch), "id: 5\n")
}

func TestHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(20*time.Millisecond))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	assert.Equal(t, ": ping\n\n", receive(t, ch))
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	b.Publish(Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "1"}})
	require.Eventually(t, func() bool {
		return strings.Contains(w.body(), "event: record.updated")
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSSEHandlerResumesFromLastEventID(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	publishAll(t, b,
		Event{Type: EventRecordCreated, Data: map[string]string{"cpf": "old"}},
		Event{Type: EventRecordUpdated, Data: map[string]string{"cpf": "missed"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(w.body(), `"cpf":"missed"`)
	}, time.Second, 10*time.Millisecond)
	assert.NotContains(t, w.body(), `"cpf":"old"`)

	cancel()
	<-done
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Buffer holds 64; the extra publishes must not block.
	for range 70 {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	assert.Equal(t, 1, b.ClientCount())
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	require.Equal(t, 1, b.ClientCount())

	b.Close()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected subscriber channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	// No-ops after close.
	b.Publish(Event{Type: EventRecordUpdated})
	b.PublishChange(EventRecordUpdated, nil)
	b.Close()

	_, ok := <-b.Subscribe()
	assert.False(t, ok)
}
