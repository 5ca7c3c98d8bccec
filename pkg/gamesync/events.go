package gamesync

import (
	"sync"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/realtime"
)

type eventKind int

const (
	eventNotification eventKind = iota
	eventTransportStatus
	eventPollTick
	eventFetch
	eventLocalMutation
	eventRetry
	eventRecover
	eventHeartbeat
	eventResync
)

func (k eventKind) String() string {
	switch k {
	case eventNotification:
		return "notification"
	case eventTransportStatus:
		return "transportStatus"
	case eventPollTick:
		return "pollTick"
	case eventFetch:
		return "fetch"
	case eventLocalMutation:
		return "localMutation"
	case eventRetry:
		return "retry"
	case eventRecover:
		return "recover"
	case eventHeartbeat:
		return "heartbeat"
	case eventResync:
		return "resync"
	default:
		return "unknown"
	}
}

// event is the single message type consumed by the engine loop.
type event struct {
	kind eventKind
	// seq tags timer events and subscription callbacks so that stale ones
	// can be told apart from current ones
	seq    uint64
	subID  string
	change *gametypes.ChangeEvent
	status realtime.Status
	err    error
	// local mutation
	position string
	moveLog  []string
	result   chan error
}

// eventSink delivers an event to the engine loop.
type eventSink func(ev event)

// listenerManager fans events out to registered handlers.
type listenerManager[E any] struct {
	lock     sync.Mutex
	handlers []func(E)
}

// RegisterHandler registers a handler for events.
func (lm *listenerManager[E]) RegisterHandler(handler func(E)) {
	lm.lock.Lock()
	defer lm.lock.Unlock()
	lm.handlers = append(lm.handlers, handler)
}

// Trigger calls every registered handler in its own goroutine.
func (lm *listenerManager[E]) Trigger(e E) {
	lm.lock.Lock()
	defer lm.lock.Unlock()
	for _, handler := range lm.handlers {
		go handler(e)
	}
}

// TriggerSync calls every registered handler in order on the calling goroutine.
func (lm *listenerManager[E]) TriggerSync(e E) {
	lm.lock.Lock()
	handlers := make([]func(E), len(lm.handlers))
	copy(handlers, lm.handlers)
	lm.lock.Unlock()

	for _, handler := range handlers {
		handler(e)
	}
}
