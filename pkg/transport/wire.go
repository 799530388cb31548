package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Replies larger than this are rejected.
const maxReplySize = 64 << 20

// NewWire creates a Wire for an endpoint URL. The scheme picks the wire:
// http/https post to the URL, ws/wss keep a WebSocket open, tcp speaks
// newline-delimited JSON.
func NewWire(endpoint string) (Wire, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPWire(endpoint, nil), nil
	case "ws", "wss":
		return NewWSWire(endpoint), nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("tcp endpoint %q has no host", endpoint)
		}
		return NewLineWire(u.Host), nil
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme: %q", u.Scheme)
	}
}

// HTTPWire posts each envelope as a JSON body to one URL.
type HTTPWire struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPWire creates an HTTP wire. A nil client gets pooled defaults; the
// per-call deadline comes from the request context.
func NewHTTPWire(endpoint string, httpClient *http.Client) *HTTPWire {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &HTTPWire{endpoint: endpoint, httpClient: httpClient}
}

// Exchange implements Wire.
func (w *HTTPWire) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	// Error statuses still carry an envelope reply; only an empty body
	// leaves nothing to interpret.
	if len(bytes.TrimSpace(body)) == 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return body, nil
}

// Close implements Wire.
func (w *HTTPWire) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}

// LineWire speaks newline-delimited JSON over one TCP connection.
// Calls are serialized; a broken connection is redialed on the next call.
type LineWire struct {
	addr   string
	dialer net.Dialer

	mu   sync.Mutex
	conn net.Conn
	rd   *bufio.Reader
}

// NewLineWire creates a line wire for host:port.
func NewLineWire(addr string) *LineWire {
	return &LineWire{
		addr:   addr,
		dialer: net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
	}
}

// Exchange implements Wire.
func (w *LineWire) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, err := w.dialer.DialContext(ctx, "tcp", w.addr)
		if err != nil {
			return nil, err
		}
		w.conn = conn
		w.rd = bufio.NewReader(conn)
	}

	deadline, _ := ctx.Deadline()
	w.conn.SetDeadline(deadline)
	conn := w.conn
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	line := make([]byte, 0, len(payload)+1)
	line = append(append(line, payload...), '\n')
	if _, err := w.conn.Write(line); err != nil {
		return nil, w.fail(ctx, err)
	}
	reply, err := w.rd.ReadBytes('\n')
	if err != nil {
		return nil, w.fail(ctx, err)
	}
	return bytes.TrimSpace(reply), nil
}

func (w *LineWire) fail(ctx context.Context, err error) error {
	w.conn.Close()
	w.conn = nil
	w.rd = nil
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// Close implements Wire.
func (w *LineWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	w.rd = nil
	return err
}

// WSWire sends each envelope as one text frame on a WebSocket and reads one
// frame back. Calls are serialized; a broken socket is redialed.
type WSWire struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSWire creates a WebSocket wire.
func NewWSWire(url string) *WSWire {
	return &WSWire{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Exchange implements Wire.
func (w *WSWire) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, resp, err := w.dialer.DialContext(ctx, w.url, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxReplySize)
		w.conn = conn
	}

	deadline, _ := ctx.Deadline()
	w.conn.SetWriteDeadline(deadline)
	w.conn.SetReadDeadline(deadline)
	conn := w.conn
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
		conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return nil, w.fail(ctx, err)
	}
	_, reply, err := w.conn.ReadMessage()
	if err != nil {
		return nil, w.fail(ctx, err)
	}
	return reply, nil
}

func (w *WSWire) fail(ctx context.Context, err error) error {
	w.conn.Close()
	w.conn = nil
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}

// Close implements Wire.
func (w *WSWire) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}
