package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway forwards requests to a JSON completion endpoint.
//
// Request body: {"client_id", "instructions", "history": [{"sender","text"}]}.
// Response body: {"text": ..., "tool_call": {"name", "arguments"}}; "reply",
// "output" and "message" are accepted in place of "text", and a non-JSON body
// is taken as the reply text.
type HTTPGateway struct {
	url    string
	client *http.Client
}

// StatusError reports a non-2xx response from a completion backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

type httpTurn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type httpRequest struct {
	ClientID     string     `json:"client_id"`
	Instructions string     `json:"instructions,omitempty"`
	History      []httpTurn `json:"history"`
}

func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *HTTPGateway) Complete(ctx context.Context, req Request) (Reply, error) {
	body := httpRequest{
		ClientID:     req.ClientID,
		Instructions: req.Instructions,
		History:      make([]httpTurn, 0, len(req.History)),
	}
	for _, t := range req.History {
		body.History = append(body.History, httpTurn{Sender: string(t.Sender), Text: t.Text})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Reply{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Reply{}, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Reply{Text: strings.TrimSpace(string(raw))}, nil
	}

	reply := Reply{Text: strings.TrimSpace(extractText(obj))}
	call, err := extractToolCall(obj)
	if err != nil {
		return Reply{}, err
	}
	reply.Call = call
	return reply, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "reply", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractToolCall(obj map[string]any) (*ToolCall, error) {
	raw, ok := obj["tool_call"].(map[string]any)
	if !ok {
		return nil, nil
	}
	name, _ := raw["name"].(string)
	switch args := raw["arguments"].(type) {
	case string:
		return parseToolCall(name, args)
	case map[string]any:
		call, err := parseToolCall(name, "")
		if call != nil {
			call.Args = args
		}
		return call, err
	default:
		return parseToolCall(name, "")
	}
}
