package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/messages"
)

const (
	// DefaultSubscribeTimeout bounds the dial and the wait for the server's acknowledgement
	DefaultSubscribeTimeout = 10 * time.Second
)

var _ Channel = &WSChannel{}

// WSChannel subscribes to game changes over a websocket per subscription.
type WSChannel struct {
	baseURL          string
	token            string
	subscribeTimeout time.Duration
	httpClient       *http.Client
}

type NewWSChannelOptions struct {
	// URL is the server base url, http(s) or ws(s)
	URL string
	// Token is sent as a bearer token when set
	Token            string
	SubscribeTimeout time.Duration
	HTTPClient       *http.Client
}

func NewWSChannel(opts NewWSChannelOptions) *WSChannel {
	timeout := opts.SubscribeTimeout
	if timeout <= 0 {
		timeout = DefaultSubscribeTimeout
	}
	return &WSChannel{
		baseURL:          strings.TrimSuffix(opts.URL, "/"),
		token:            opts.Token,
		subscribeTimeout: timeout,
		httpClient:       opts.HTTPClient,
	}
}

// SubscribeURL returns the websocket endpoint for gameID.
func (c *WSChannel) SubscribeURL(gameID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %v", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported url scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/games/" + url.PathEscape(gameID) + "/subscribe"
	return u.String(), nil
}

// Subscribe dials the server in the background. The returned subscription
// reports SUBSCRIBED once the server acknowledges it and exactly one of
// CHANNEL_ERROR, TIMED_OUT or CLOSED when it ends.
func (c *WSChannel) Subscribe(ctx context.Context, gameID string, onEvent EventHandler, onStatus StatusHandler) (Subscription, error) {
	if gameID == "" {
		return nil, fmt.Errorf("game id is required")
	}
	subURL, err := c.SubscribeURL(gameID)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &wsSubscription{
		id:       uuid.NewString(),
		gameID:   gameID,
		url:      subURL,
		channel:  c,
		onEvent:  onEvent,
		onStatus: onStatus,
		cancel:   cancel,
		logger:   log.With("component", "realtime").With("game", gameID),
	}
	go sub.run(subCtx)
	return sub, nil
}

type wsSubscription struct {
	id       string
	gameID   string
	url      string
	channel  *WSChannel
	onEvent  EventHandler
	onStatus StatusHandler
	cancel   context.CancelFunc
	logger   *log.Logger

	lock     sync.Mutex
	closing  bool
	finished bool
}

func (s *wsSubscription) ID() string {
	return s.id
}

// Unsubscribe cancels the subscription context, which closes the connection
// and makes the read loop report CLOSED.
func (s *wsSubscription) Unsubscribe() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closing {
		return nil
	}
	s.closing = true
	s.cancel()
	return nil
}

func (s *wsSubscription) isClosing() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closing
}

// finish reports the terminal status once.
func (s *wsSubscription) finish(status Status, err error) {
	s.lock.Lock()
	if s.finished {
		s.lock.Unlock()
		return
	}
	s.finished = true
	s.lock.Unlock()

	if err != nil {
		s.logger.Debug("Subscription %s ended with %s: %v", s.id, status, err)
	} else {
		s.logger.Debug("Subscription %s ended with %s", s.id, status)
	}
	s.onStatus(status, err)
}

func (s *wsSubscription) run(ctx context.Context) {
	defer s.cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		s.finish(s.failureStatus(err), err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := s.awaitAck(ctx, conn); err != nil {
		s.finish(s.failureStatus(err), err)
		return
	}
	s.onStatus(StatusSubscribed, nil)

	for {
		msg, err := ReadMessageFromWS(ctx, conn)
		if err != nil {
			if s.isClosing() || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.finish(StatusClosed, nil)
				return
			}
			s.finish(StatusChannelError, fmt.Errorf("failed to read message: %w", err))
			return
		}

		switch msg.Type {
		case messages.MessageTypeChange:
			change, err := msg.DecodeChange()
			if err != nil {
				s.logger.Warn("Dropping malformed change: %v", err)
				continue
			}
			s.onEvent(*change)
		case messages.MessageTypeError:
			s.finish(StatusChannelError, serverError(msg))
			return
		default:
			s.logger.Debug("Ignoring message of type %s", msg.Type)
		}
	}
}

func (s *wsSubscription) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.channel.subscribeTimeout)
	defer cancel()

	header := http.Header{}
	if s.channel.token != "" {
		header.Set("Authorization", "Bearer "+s.channel.token)
	}
	conn, resp, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{
		HTTPClient: s.channel.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: status %d: %w", s.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	conn.SetReadLimit(messages.MessageBufferSize)
	return conn, nil
}

// awaitAck waits for the server to confirm the subscription.
func (s *wsSubscription) awaitAck(ctx context.Context, conn *websocket.Conn) error {
	ackCtx, cancel := context.WithTimeout(ctx, s.channel.subscribeTimeout)
	defer cancel()

	msg, err := ReadMessageFromWS(ackCtx, conn)
	if err != nil {
		if errors.Is(ackCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no acknowledgement within %s: %w", s.channel.subscribeTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("failed to read acknowledgement: %w", err)
	}
	switch msg.Type {
	case messages.MessageTypeSubscribed:
		return nil
	case messages.MessageTypeError:
		return serverError(msg)
	default:
		return fmt.Errorf("unexpected message of type %s before acknowledgement", msg.Type)
	}
}

// failureStatus maps a dial or acknowledgement failure to a status.
func (s *wsSubscription) failureStatus(err error) Status {
	if s.isClosing() {
		return StatusClosed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimedOut
	}
	return StatusChannelError
}

func serverError(msg *messages.Message) error {
	payload, err := msg.DecodeError()
	if err != nil {
		return fmt.Errorf("server error: %v", err)
	}
	return fmt.Errorf("server error: %s", payload.Message)
}

// WriteMessageToWS writes a Message to a websocket connection.
func WriteMessageToWS(ctx context.Context, conn *websocket.Conn, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to websocket connection: %w", err)
	}
	return nil
}

// ReadMessageFromWS reads a Message from a websocket connection.
func ReadMessageFromWS(ctx context.Context, conn *websocket.Conn) (*messages.Message, error) {
	_, b, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := messages.DeserializeMessage(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize message: %v", err)
	}
	return msg, nil
}
