package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// Conn is an open realtime connection. Receive blocks until a frame
// arrives or the connection is closed.
type Conn interface {
	Send(frame Frame) error
	Receive() (Frame, error)
	Close() error
}

// Transport opens connections to a realtime endpoint.
type Transport interface {
	Name() string
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// DefaultTransports is the preference order used by sockets.
func DefaultTransports() []Transport {
	return []Transport{&WebSocketTransport{}, &PollingTransport{}}
}

// WebSocketTransport dials a websocket endpoint.
type WebSocketTransport struct {
	// Origin defaults to the endpoint's http(s) origin.
	Origin string
}

func (t *WebSocketTransport) Name() string { return "websocket" }

func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	wsURL, origin, err := websocketURLs(endpoint)
	if err != nil {
		return nil, err
	}
	if t.Origin != "" {
		origin = t.Origin
	}

	cfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, err
	}
	cfg.Header = make(http.Header)
	for k, v := range header {
		cfg.Header[k] = append([]string(nil), v...)
	}

	type result struct {
		conn *websocket.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := websocket.DialConfig(cfg)
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return &wsConn{
			conn: r.conn,
			enc:  json.NewEncoder(r.conn),
			dec:  json.NewDecoder(r.conn),
		}, nil
	}
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	enc  *json.Encoder
	dec  *json.Decoder
}

func (c *wsConn) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(frame)
}

func (c *wsConn) Receive() (Frame, error) {
	var f Frame
	err := c.dec.Decode(&f)
	return f, err
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func websocketURLs(endpoint string) (wsURL, origin string, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", err
	}
	o := *u
	o.Path, o.RawQuery, o.Fragment = "", "", ""
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws":
		o.Scheme = "http"
	case "wss":
		o.Scheme = "https"
	default:
		return "", "", fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	return u.String(), o.String(), nil
}

// PollingTransport is the HTTP long-poll fallback. The client picks the
// session id. PUT opens the session and GET waits for frames. POST sends
// one frame and DELETE ends the session.
type PollingTransport struct {
	Client *http.Client
	// Endpoint replaces the socket endpoint when set.
	Endpoint string
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	if t.Endpoint != "" {
		endpoint = t.Endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	q := u.Query()
	q.Set("transport", "polling")
	q.Set("sid", uuid.NewString())
	u.RawQuery = q.Encode()

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &pollConn{
		client: client,
		url:    u.String(),
		header: header.Clone(),
		ctx:    connCtx,
		cancel: cancel,
	}
	if err := c.do(ctx, http.MethodPut, nil, nil); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

type pollConn struct {
	client *http.Client
	url    string
	header http.Header
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Frame
	once    sync.Once
}

func (c *pollConn) Send(frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.do(c.ctx, http.MethodPost, body, nil)
}

func (c *pollConn) Receive() (Frame, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			f := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return f, nil
		}
		c.mu.Unlock()

		var frames []Frame
		if err := c.do(c.ctx, http.MethodGet, nil, &frames); err != nil {
			return Frame{}, err
		}
		c.mu.Lock()
		c.pending = append(c.pending, frames...)
		c.mu.Unlock()
	}
}

func (c *pollConn) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		err = c.do(ctx, http.MethodDelete, nil, nil)
	})
	return err
}

func (c *pollConn) do(ctx context.Context, method string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, reader)
	if err != nil {
		return err
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusGone {
		return io.EOF
	}
	if res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("polling %s: %d %s", strings.ToLower(method), res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
