package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called for every live price tick received on a subscribed
// pair.
type TickHandler func(pair string, p domain.PricePoint)

// streamCommand is the subscribe/unsubscribe envelope sent to the indexer's
// websocket endpoint.
type streamCommand struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

// tickMessage is one price update from the stream.
type tickMessage struct {
	Type      string  `json:"type"`
	Pair      string  `json:"pair"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// PriceStream is a websocket client for the indexer's live price feed. It
// keeps the latest tick per pair so callers can read prices without waiting
// on the network, and restores subscriptions after reconnecting.
type PriceStream struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Pairs to restore on reconnect.
	subscribed []string

	// Latest tick per pair slug.
	latest map[string]domain.PricePoint

	handlerMu sync.RWMutex
	handlers  []TickHandler

	// done is closed when the stream is shut down.
	done chan struct{}
}

// NewPriceStream creates a stream client for the given websocket URL, e.g.
// "wss://index.dcapilot.example/v1/stream".
func NewPriceStream(wsURL string) *PriceStream {
	return &PriceStream{
		wsURL:  wsURL,
		latest: make(map[string]domain.PricePoint),
		done:   make(chan struct{}),
	}
}

// Connect establishes the websocket connection and starts the read and ping
// loops.
func (s *PriceStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("feed: stream closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect stream: %w", err)
	}
	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	// Restore subscriptions after reconnect.
	if len(s.subscribed) > 0 {
		if err := s.sendCommand(streamCommand{Type: "subscribe", Pairs: s.subscribed}); err != nil {
			return fmt.Errorf("feed: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe starts streaming ticks for the given pairs.
func (s *PriceStream) Subscribe(ctx context.Context, pairs []domain.Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("feed: stream not connected")
	}

	slugs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		slugs = append(slugs, pairSlug(p))
	}
	if err := s.sendCommand(streamCommand{Type: "subscribe", Pairs: slugs}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	s.subscribed = append(s.subscribed, slugs...)
	return nil
}

// OnTick registers a handler invoked for every received price tick.
func (s *PriceStream) OnTick(h TickHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Latest returns the most recent tick for pair, if one has arrived.
func (s *PriceStream) Latest(pair domain.Pair) (domain.PricePoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.latest[pairSlug(pair)]
	return p, ok
}

// Close shuts the stream down and stops the loops.
func (s *PriceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command on the stream. Caller must hold s.mu.
func (s *PriceStream) sendCommand(cmd streamCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads ticks until disconnect, then hands off to reconnect.
func (s *PriceStream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.reconnect()
			return // a fresh readLoop starts from Connect
		}
		s.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (s *PriceStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one tick and fans it out. Unparseable messages are
// dropped silently.
func (s *PriceStream) handleMessage(raw []byte) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "tick" {
		return
	}

	point := domain.PricePoint{
		Price:     msg.Price,
		Timestamp: time.Unix(msg.Timestamp, 0).UTC(),
	}

	s.mu.Lock()
	s.latest[msg.Pair] = point
	s.mu.Unlock()

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(msg.Pair, point)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the stream is closed.
func (s *PriceStream) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
