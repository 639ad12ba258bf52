package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
)

const (
	dialTimeout  = 10 * time.Second
	pollTimeout  = 60 * time.Second
	maxFrameSize = 1 << 20
)

// conn is one live connection to the status service.
type conn interface {
	// read blocks until at least one raw frame is available.
	read(ctx context.Context) ([][]byte, error)
	close()
	transport() string
}

type wsConn struct {
	c *websocket.Conn
}

func (c *Channel) dialWebSocket(ctx context.Context) (conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dctx, c.cfg.URL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: c.authHeader(),
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{c: ws}, nil
}

func (w *wsConn) read(ctx context.Context) ([][]byte, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return [][]byte{data}, nil
}

func (w *wsConn) close()            { w.c.CloseNow() }
func (w *wsConn) transport() string { return "websocket" }

// pollConn is the long-poll fallback. The opening request carries no cursor
// and returns the current position immediately; later requests block on the
// server until events past the cursor exist or the poll times out.
type pollConn struct {
	ch      *Channel
	cursor  int64
	pending [][]byte
}

type pollResponse struct {
	Events []json.RawMessage `json:"events"`
	Cursor int64             `json:"cursor"`
}

func (c *Channel) dialPoll(ctx context.Context) (conn, error) {
	p := &pollConn{ch: c}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := p.fetch(dctx, false); err != nil {
		return nil, fmt.Errorf("long-poll open: %w", err)
	}
	return p, nil
}

func (p *pollConn) read(ctx context.Context) ([][]byte, error) {
	for len(p.pending) == 0 {
		pctx, cancel := context.WithTimeout(ctx, pollTimeout)
		err := p.fetch(pctx, true)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// The server held the poll longer than we wait; ask again.
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	out := p.pending
	p.pending = nil
	return out, nil
}

func (p *pollConn) fetch(ctx context.Context, withCursor bool) error {
	u, err := url.Parse(p.ch.cfg.PollURL)
	if err != nil {
		return err
	}
	if withCursor {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(p.cursor, 10))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header = p.ch.authHeader()
	req.Header.Set("Accept", "application/json")

	resp, err := p.ch.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxFrameSize))
		return fmt.Errorf("long-poll: unexpected status %d", resp.StatusCode)
	}

	var body pollResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16*maxFrameSize)).Decode(&body); err != nil {
		return fmt.Errorf("long-poll: decoding response: %w", err)
	}
	if body.Cursor > p.cursor {
		p.cursor = body.Cursor
	}
	for _, ev := range body.Events {
		p.pending = append(p.pending, ev)
	}
	return nil
}

func (p *pollConn) close()            {}
func (p *pollConn) transport() string { return "long-poll" }
