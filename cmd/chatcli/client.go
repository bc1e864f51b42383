package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

type startResponse struct {
	ThreadID       string `json:"thread_id"`
	InitialMessage string `json:"initial_message"`
	CorrelationID  string `json:"correlation_id"`
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// client talks to the engine's HTTP endpoints.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *client) Start(ctx context.Context) (*startResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/start", nil)
	if err != nil {
		return nil, err
	}
	var out startResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("start thread: %w", err)
	}
	return &out, nil
}

func (c *client) ensureThread(ctx context.Context, threadID string) (string, error) {
	if threadID != "" {
		return threadID, nil
	}
	start, err := c.Start(ctx)
	if err != nil {
		return "", err
	}
	fmt.Printf("thread_id: %s\nassistant: %s\n", start.ThreadID, start.InitialMessage)
	return start.ThreadID, nil
}

func (c *client) Chat(ctx context.Context, threadID, message string) ([]string, error) {
	req, err := c.chatRequest(ctx, threadID, message)
	if err != nil {
		return nil, err
	}
	var out struct {
		Responses []string `json:"responses"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return out.Responses, nil
}

// ChatSSE posts message with Accept: text/event-stream and prints the
// streamed reply to w as it arrives.
func (c *client) ChatSSE(ctx context.Context, threadID, message string, w io.Writer) error {
	req, err := c.chatRequest(ctx, threadID, message)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	p := &printer{w: w}
	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch event {
			case domain.EventMetadata, domain.EventError:
				p.raw(event, data)
			default:
				var frame domain.Frame
				if err := json.Unmarshal(data, &frame); err == nil {
					p.frame(frame)
				}
			}
		}
	}
	p.end()
	return scanner.Err()
}

func (c *client) chatRequest(ctx context.Context, threadID, message string) (*http.Request, error) {
	body, err := json.Marshal(chatRequest{ThreadID: threadID, Message: message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// wsConn is a chat connection to /ws/chat.
type wsConn struct {
	conn *websocket.Conn
}

func dialWS(baseURL string) (*wsConn, error) {
	u := strings.TrimRight(baseURL, "/") + "/ws/chat"
	u = strings.Replace(u, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Close() error {
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

// Chat sends one message and prints frames until the run's metadata or an
// error frame arrives.
func (c *wsConn) Chat(threadID, message string, w io.Writer) error {
	if err := c.conn.WriteJSON(chatRequest{ThreadID: threadID, Message: message}); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	p := &printer{w: w}
	defer p.end()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case domain.EventError:
			p.raw(frame.Event, data)
			return nil
		case domain.EventMetadata:
			p.raw(frame.Event, frame.Data)
			return nil
		default:
			p.frame(frame)
		}
	}
}

// printer renders message deltas inline and other notable events on their own line.
type printer struct {
	w         io.Writer
	streaming bool
}

func (p *printer) frame(f domain.Frame) {
	ev, err := domain.DecodeEvent(f.Event, f.Data)
	if err != nil {
		return
	}
	switch e := ev.(type) {
	case *domain.MessageDelta:
		if !p.streaming {
			fmt.Fprint(p.w, "assistant: ")
			p.streaming = true
		}
		fmt.Fprint(p.w, e.Text())
	case *domain.RequiresAction:
		p.end()
		for _, call := range e.ToolCalls {
			fmt.Fprintf(p.w, "[tool] %s(%s)\n", call.Name, call.Arguments)
		}
	case *domain.RunFailed:
		p.end()
		fmt.Fprintf(p.w, "[%s] %s\n", f.Event, e.Message)
	}
}

func (p *printer) raw(event string, data []byte) {
	p.end()
	fmt.Fprintf(p.w, "[%s] %s\n", event, data)
}

func (p *printer) end() {
	if p.streaming {
		fmt.Fprintln(p.w)
		p.streaming = false
	}
}
