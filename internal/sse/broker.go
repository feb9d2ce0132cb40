// Package sse pushes family graph changes to browsers over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"
)

// Change event types. Every change schedules a coalesced EventGraphUpdated.
const (
	EventFamilyImported = "family.imported"
	EventCacheCleared   = "cache.cleared"
	EventRecordCreated  = "record.created"
	EventRecordUpdated  = "record.updated"
	EventRecordDeleted  = "record.deleted"
	EventGraphUpdated   = "graph.updated"
)

const defaultHistory = 128

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// GraphUpdate is the payload of EventGraphUpdated: the CPFs touched since the
// previous one.
type GraphUpdate struct {
	CPFs []string `json:"cpfs"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sends a comment line to every client at the given interval
// so idle proxies keep the stream open.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		b.heartbeat = d
	}
}

// WithHistory sets how many past events are kept for Last-Event-ID replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.historySize = n
		}
	}
}

type subscription struct {
	ch    chan []byte
	after uint64
}

type frame struct {
	id  uint64
	raw []byte
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop owns the client set, the event sequence, the
// replay history and the pending graph update. Public methods talk to it
// through channels.
type Broker struct {
	graphMin    time.Duration
	heartbeat   time.Duration
	historySize int

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	changeCh      chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits graph.updated at most once per
// graphThrottle. Changes inside the window are folded into one trailing
// graph.updated.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		historySize:   defaultHistory,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	history := make([]frame, 0, b.historySize)
	var seq uint64

	pending := make(map[string]struct{})
	var (
		lastGraph  time.Time
		graphTimer *time.Timer
		graphC     <-chan time.Time
	)

	var heartbeatC <-chan time.Time
	if b.heartbeat > 0 {
		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()
		heartbeatC = ticker.C
	}

	send := func(raw []byte) {
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	emit := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)
		if b.historySize > 0 {
			if len(history) == b.historySize {
				history = append(history[:0], history[1:]...)
			}
			history = append(history, frame{id: seq, raw: raw})
		}
		send(raw)
	}

	flushGraph := func() {
		cpfs := make([]string, 0, len(pending))
		for cpf := range pending {
			cpfs = append(cpfs, cpf)
		}
		slices.Sort(cpfs)
		clear(pending)
		lastGraph = time.Now()
		emit(Event{Type: EventGraphUpdated, Data: GraphUpdate{CPFs: cpfs}})
	}

	for {
		select {
		case <-b.stopCh:
			if graphTimer != nil {
				graphTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			if sub.after > 0 {
				for _, f := range history {
					if f.id <= sub.after {
						continue
					}
					select {
					case sub.ch <- f.raw:
					default:
					}
				}
			}
			clients[sub.ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			emit(event)

		case event := <-b.changeCh:
			emit(event)
			if cpf := cpfOf(event.Data); cpf != "" {
				pending[cpf] = struct{}{}
			}
			if graphC != nil {
				continue
			}
			if wait := b.graphMin - time.Since(lastGraph); wait > 0 {
				graphTimer = time.NewTimer(wait)
				graphC = graphTimer.C
				continue
			}
			flushGraph()

		case <-graphC:
			graphTimer, graphC = nil, nil
			flushGraph()

		case <-heartbeatC:
			send([]byte(": ping\n\n"))

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// cpfOf extracts the "cpf" field of a change payload.
func cpfOf(data any) string {
	switch d := data.(type) {
	case map[string]any:
		s, _ := d["cpf"].(string)
		return s
	case map[string]string:
		return d["cpf"]
	}
	return ""
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeFrom(0)
}

// SubscribeFrom adds a new client that first receives the retained events
// with an id greater than lastID. Zero replays nothing.
func (b *Broker) SubscribeFrom(lastID uint64) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, after: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange sends a change event and schedules a graph.updated that
// names the change's cpf.
func (b *Broker) PublishChange(kind string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- Event{Type: kind, Data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/v1/events). A
// Last-Event-ID header resumes from the retained history.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeFrom(lastID)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
