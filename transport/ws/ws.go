// Package ws implements the ws:// and wss:// Transport using
// github.com/gorilla/websocket, framing one JSON-encoded envelope per
// WebSocket text message (spec §6, "Transport URIs").
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/transport"
)

// Transport is a ws://wss:// Transport backed by a single
// *websocket.Conn. Only one Send and one Receive may be in flight at a
// time, matching the contract the channel core relies on; this
// implementation additionally serializes all writes through sendMu since
// gorilla/websocket forbids concurrent writers on one connection.
type Transport struct {
	transport.ClosingNotifier

	conn   *websocket.Conn
	serial envelope.Serializer

	sendMu    sync.Mutex
	mu        sync.Mutex
	connected bool
	closeOnce sync.Once
}

// Dial opens a WebSocket connection to uri (ws:// or wss://) and returns a
// ready-to-use Transport. cfg may be nil to use default TLS settings.
func Dial(ctx context.Context, uri string, header http.Header, cfg *tls.Config) (*Transport, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  cfg,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, uri, header)
	if err != nil {
		return nil, &transport.OpenError{URI: uri, Err: err}
	}

	return newTransport(conn), nil
}

// Accept wraps an already-upgraded server-side *websocket.Conn (the result
// of a gorilla/websocket Upgrader.Upgrade call, which lives in the HTTP
// serving layer outside this module) as a Transport.
func Accept(conn *websocket.Conn) *Transport {
	return newTransport(conn)
}

func newTransport(conn *websocket.Conn) *Transport {
	t := &Transport{
		conn:      conn,
		serial:    envelope.JSONSerializer{},
		connected: true,
	}
	conn.SetCloseHandler(func(code int, text string) error {
		t.Close()
		return nil
	})
	return t
}

// Receive blocks until one envelope is framed from the connection, ctx is
// canceled, or the peer closes gracefully (nil, nil).
func (t *Transport) Receive(ctx context.Context) (envelope.Envelope, error) {
	type result struct {
		env envelope.Envelope
		err error
	}
	resCh := make(chan result, 1)

	go func() {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				resCh <- result{nil, nil}
				return
			}
			resCh <- result{nil, &transportError{cause: err}}
			return
		}
		env, err := t.serial.Unmarshal(data)
		resCh <- result{env, err}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			log.Printf("ws: receive error: %v", r.err)
		}
		return r.env, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send blocks until e is written to the connection or ctx is canceled.
func (t *Transport) Send(ctx context.Context, e envelope.Envelope) error {
	data, err := t.serial.Marshal(e)
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		t.sendMu.Lock()
		defer t.sendMu.Unlock()
		done <- t.conn.WriteMessage(websocket.TextMessage, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &transportError{cause: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close initiates orderly shutdown of the WebSocket connection. Idempotent.
func (t *Transport) Close() error {
	var closeErr error
	t.closeOnce.Do(func() {
		ctx := context.Background()
		t.FireClosing(ctx)

		t.sendMu.Lock()
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		t.sendMu.Unlock()

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		closeErr = t.conn.Close()
		t.FireClosed()
	})
	return closeErr
}

// Connected reports whether the connection is believed live.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

type transportError struct{ cause error }

func (e *transportError) Error() string { return "ws: " + e.cause.Error() }
func (e *transportError) Unwrap() error { return e.cause }

var _ transport.Transport = (*Transport)(nil)
