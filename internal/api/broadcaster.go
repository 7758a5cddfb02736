package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

// Message is one frame sent to stream clients.
type Message struct {
	Type string `json:"type"` // run_start | step | run_end
	Data any    `json:"data"`
}

const (
	clientBuffer = 32
	writeTimeout = 5 * time.Second
)

// Broadcaster is a sim.Observer that fans run events out to websocket
// clients. Clients that fall behind by more than their buffer are
// disconnected rather than slowing the simulation down.
type Broadcaster struct {
	sim.BaseObserver

	log logging.Logger

	mu      sync.Mutex
	clients map[chan Message]struct{}
	closed  bool
}

var _ sim.Observer = (*Broadcaster)(nil)

// NewBroadcaster returns a broadcaster with no clients.
func NewBroadcaster(log logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.Noop()
	}
	return &Broadcaster{log: log, clients: make(map[chan Message]struct{})}
}

func (b *Broadcaster) OnRunStart(_ context.Context, info sim.RunInfo) error {
	b.publish(Message{Type: "run_start", Data: info})
	return nil
}

func (b *Broadcaster) OnStepComplete(_ context.Context, report sim.StepReport) error {
	b.publish(Message{Type: "step", Data: report})
	return nil
}

func (b *Broadcaster) OnRunEnd(_ context.Context, result sim.Result) error {
	b.publish(Message{Type: "run_end", Data: result})
	return nil
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Subscribe registers a client channel. The returned cancel function must
// be called when the client goes away.
func (b *Broadcaster) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.clients[ch] = struct{}{}
	return ch, func() { b.drop(ch) }
}

// Close disconnects every client and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

func (b *Broadcaster) publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
			delete(b.clients, ch)
			close(ch)
			b.log.Warn(context.Background(), "stream client too slow; disconnected")
		}
	}
}

func (b *Broadcaster) drop(ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
}

// ServeHTTP upgrades to a websocket and streams messages until the client
// disconnects or the broadcaster closes.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		b.log.Warn(r.Context(), "websocket accept failed", logging.Err(err))
		return
	}
	defer conn.CloseNow()

	msgs, cancel := b.Subscribe()
	defer cancel()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream closed")
				return
			}
			wctx, done := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			done()
			if err != nil {
				return
			}
		}
	}
}
