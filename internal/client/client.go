package client

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
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
)

// Client talks to a codeshum server: one WebSocket for the session stream
// plus plain HTTP for submissions.
type Client struct {
	base      *url.URL
	http      *http.Client
	conn      *websocket.Conn
	SessionID string

	writeMu sync.Mutex
}

// RunResponse is the body of a successful POST /run.
type RunResponse struct {
	Message string `json:"message"`
	RunID   string `json:"runId"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status      int                   `json:"-"`
	Message     string                `json:"error"`
	Detail      string                `json:"message,omitempty"`
	Diagnostics []protocol.Diagnostic `json:"diagnostics,omitempty"`
	RunID       string                `json:"runId,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Dial opens the session stream and waits for the handshake frame.
func Dial(ctx context.Context, baseURL string) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}

	ws := *base
	switch base.Scheme {
	case "https":
		ws.Scheme = "wss"
	default:
		ws.Scheme = "ws"
	}
	ws.Path = base.Path + "/ws"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", ws.String(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var hs protocol.Handshake
	if err := conn.ReadJSON(&hs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	if hs.UserID == "" {
		conn.Close()
		return nil, fmt.Errorf("server did not assign a session")
	}

	return &Client{
		base:      base,
		http:      &http.Client{Timeout: 2 * time.Minute},
		conn:      conn,
		SessionID: hs.UserID,
	}, nil
}

// Submit posts files for this session. Compile failures come back as an
// *APIError carrying the diagnostics.
func (c *Client) Submit(ctx context.Context, files []protocol.SourceFile) (*RunResponse, error) {
	body, err := json.Marshal(protocol.RunRequest{SessionID: c.SessionID, Files: files})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submitting run: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}

	var out RunResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}

// SendInput forwards one line to the running program.
func (c *Client) SendInput(line string) error {
	return c.write(protocol.Inbound{Type: protocol.TypeInput, Command: line})
}

// Ping marks the session active without sending input.
func (c *Client) Ping() error {
	return c.write(protocol.Inbound{Type: protocol.TypePing})
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// ReadFrame blocks for the next stream frame.
func (c *Client) ReadFrame() (*protocol.Outbound, error) {
	var f protocol.Outbound
	if err := c.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// SetReadDeadline bounds the next ReadFrame calls; zero clears it.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Final reports whether no more frames follow for the current run.
func Final(f *protocol.Outbound) bool {
	return f.ExitCode != nil || len(f.Diagnostics) > 0 || strings.HasPrefix(f.Message, "ERROR:\n")
}

// Close ends the session; the server destroys it on disconnect.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
