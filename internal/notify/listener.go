// Package notify subscribes to a WebSocket feed of table change
// notifications and turns matching ones into sync triggers. The feed is
// an accelerator only: a missed notification delays a change until the
// next timed pass.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	reconnectMin = 1 * time.Second
	reconnectMax = 2 * time.Minute

	// jitterDivisor bounds reconnect jitter to [0, backoff/jitterDivisor).
	jitterDivisor = 2

	reconnectBackoffMultiplier = 2

	// maxMessageSize caps a single notification frame.
	maxMessageSize = 64 << 10
)

// wsConn is the part of *websocket.Conn the listener reads from.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// dialFunc opens a feed connection.
type dialFunc func(ctx context.Context, url string) (wsConn, error)

// Listener reads change notifications and calls trigger for every one
// that names the watched table.
type Listener struct {
	url     string
	channel string
	table   string
	trigger func()
	logger  *slog.Logger
	dial    dialFunc
}

// NewListener creates a listener for the feed at url. Notifications must
// name table; JSON-wrapped ones must also be on channel.
func NewListener(url, channel, table string, trigger func(), logger *slog.Logger) *Listener {
	return &Listener{
		url:     url,
		channel: channel,
		table:   table,
		trigger: trigger,
		logger:  logger,
		dial:    dialWebSocket,
	}
}

func dialWebSocket(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	return conn, nil
}

// Listen connects and reads until ctx is cancelled, reconnecting with
// jittered exponential backoff. It returns ctx.Err() on cancellation.
func (l *Listener) Listen(ctx context.Context) error {
	backoff := reconnectMin

	for {
		conn, err := l.dial(ctx, l.url)
		if err == nil {
			l.logger.Info("notification feed connected", slog.String("url", l.url))

			err = l.readLoop(ctx, conn)
			conn.Close(websocket.StatusNormalClosure, "bye")

			// A session that got as far as reading resets the backoff.
			if !errors.Is(err, errNoMessages) {
				backoff = reconnectMin
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Warn("notification feed lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: reconnect jitter has no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)
	}
}

var errNoMessages = errors.New("connection closed before any message")

func (l *Listener) readLoop(ctx context.Context, conn wsConn) error {
	received := false

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if !received {
				return fmt.Errorf("%w: %w", errNoMessages, err)
			}

			return fmt.Errorf("reading notification: %w", err)
		}

		received = true

		if typ != websocket.MessageText {
			continue
		}

		if key, ok := l.match(data); ok {
			l.logger.Debug("change notification", slog.String("key", key))
			l.trigger()
		}
	}
}

// match reports whether a frame is a change notification for the watched
// table and returns the changed key. Frames are either the raw payload
// "<table>,changed,<key>" or JSON {"channel": ..., "payload": ...}.
func (l *Listener) match(data []byte) (string, bool) {
	payload := strings.TrimSpace(string(data))

	if gjson.Valid(payload) && strings.HasPrefix(payload, "{") {
		doc := gjson.Parse(payload)
		if l.channel != "" && doc.Get("channel").String() != l.channel {
			return "", false
		}

		payload = doc.Get("payload").String()
	}

	return matchPayload(payload, l.table)
}

func matchPayload(payload, table string) (string, bool) {
	parts := strings.SplitN(payload, ",", 3)
	if len(parts) < 2 {
		return "", false
	}

	if !strings.EqualFold(strings.TrimSpace(parts[0]), table) || strings.TrimSpace(parts[1]) != "changed" {
		return "", false
	}

	if len(parts) == 3 {
		return strings.TrimSpace(parts[2]), true
	}

	return "", true
}
