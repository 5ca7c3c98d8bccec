package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/messages"
)

const (
	// SubscriberBufferSize is the number of messages queued per subscriber
	// before it is considered too slow and dropped
	SubscriberBufferSize = 64
	DefaultPingInterval  = 30 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
)

var ErrHubClosed = errors.New("hub closed")

// Hub fans change events out to websocket subscribers filtered by game id.
type Hub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	writeTimeout time.Duration

	subscribersLock sync.RWMutex
	subscribers     map[string]map[string]*subscriber
}

type NewHubOptions struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func NewHub(opts NewHubOptions) *Hub {
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		subscribers:  make(map[string]map[string]*subscriber),
	}
}

type subscriber struct {
	id     string
	gameID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	// reason is sent as an error message before the close frame when set
	reason error
}

func (s *subscriber) close() {
	s.closeWith(nil)
}

func (s *subscriber) closeWith(reason error) {
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// ServeWS upgrades the request and registers the connection as a subscriber
// of gameID until either side closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, gameID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade to websocket: %v", err)
		return
	}
	conn.SetReadLimit(messages.MessageBufferSize)

	sub := &subscriber{
		id:     uuid.NewString(),
		gameID: gameID,
		conn:   conn,
		send:   make(chan []byte, SubscriberBufferSize),
		done:   make(chan struct{}),
	}

	ack, err := messages.SerializeMessage(messages.NewSubscribedMessage(gameID))
	if err != nil {
		log.Error("Failed to serialize subscribed message: %v", err)
		conn.Close()
		return
	}
	sub.send <- ack

	h.register(sub)
	log.Debug("Subscriber %s joined game %s from %s", sub.id, gameID, conn.RemoteAddr().String())

	go h.writePump(sub)
	h.readPump(sub)
}

// Publish queues event for every subscriber of its game. Subscribers whose
// buffer is full are disconnected.
func (h *Hub) Publish(event gametypes.ChangeEvent) error {
	gameID := event.GameID()
	if gameID == "" {
		return fmt.Errorf("change event has no game id")
	}

	msg, err := messages.NewChangeMessage(event)
	if err != nil {
		return err
	}
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize change message: %v", err)
	}

	h.subscribersLock.RLock()
	defer h.subscribersLock.RUnlock()
	for _, sub := range h.subscribers[gameID] {
		select {
		case sub.send <- b:
		default:
			log.Warn("Subscriber %s of game %s is too slow, disconnecting", sub.id, gameID)
			sub.close()
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers of gameID.
func (h *Hub) SubscriberCount(gameID string) int {
	h.subscribersLock.RLock()
	defer h.subscribersLock.RUnlock()
	return len(h.subscribers[gameID])
}

// Close disconnects every subscriber with an error message so clients
// treat it as a failure and retry.
func (h *Hub) Close() {
	h.subscribersLock.RLock()
	defer h.subscribersLock.RUnlock()
	for _, subs := range h.subscribers {
		for _, sub := range subs {
			sub.closeWith(ErrHubClosed)
		}
	}
}

func (h *Hub) register(sub *subscriber) {
	h.subscribersLock.Lock()
	defer h.subscribersLock.Unlock()
	subs, ok := h.subscribers[sub.gameID]
	if !ok {
		subs = make(map[string]*subscriber)
		h.subscribers[sub.gameID] = subs
	}
	subs[sub.id] = sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.subscribersLock.Lock()
	defer h.subscribersLock.Unlock()
	subs, ok := h.subscribers[sub.gameID]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.subscribers, sub.gameID)
	}
}

// readPump discards inbound messages and keeps the read deadline fresh
// from pongs until the connection fails.
func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		h.unregister(sub)
		sub.close()
		log.Debug("Subscriber %s left game %s", sub.id, sub.gameID)
	}()

	readTimeout := h.pingInterval + h.writeTimeout
	sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Error reading from subscriber %s: %v", sub.id, err)
			}
			return
		}
	}
}

// writePump is the only writer of the connection.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case <-sub.done:
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if sub.reason != nil {
				if b, err := messages.SerializeMessage(messages.NewErrorMessage(sub.gameID, sub.reason)); err == nil {
					sub.conn.WriteMessage(websocket.BinaryMessage, b)
				}
			}
			sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case b := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
				log.Debug("Failed to write to subscriber %s: %v", sub.id, err)
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug("Failed to ping subscriber %s: %v", sub.id, err)
				return
			}
		}
	}
}
