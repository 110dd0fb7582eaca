// Package httpjson provides a polling trigger and a webhook style action that
// talk JSON over HTTP. A resolved credential is sent as a bearer token.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/openzap/openzap/pkg/integrations/payload"
	"github.com/openzap/openzap/pkg/registry"
)

const (
	// ClassPoll is the registered class name of the polling trigger.
	ClassPoll = "http.poll_json"

	// ClassPost is the registered class name of the POST action.
	ClassPost = "http.post_json"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 4 << 20

	userAgent = "openzap/1"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Poller GETs the "url" payload field. The trigger fires when the response
// is 2xx with a non-empty body; the decoded body becomes the trigger output.
// A body that is not a JSON object is exposed under "value".
type Poller struct {
	client *http.Client
}

var _ registry.Trigger = (*Poller)(nil)

// NewPoller creates a poller using client, or http.DefaultClient when nil.
func NewPoller(client *http.Client) *Poller {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poller{client: client}
}

// Check performs one poll.
func (p *Poller) Check(ctx context.Context, cred registry.Credential, fields map[string]any) (registry.TriggerResult, error) {
	url, err := payload.String(fields, "url")
	if err != nil {
		return registry.TriggerResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return registry.TriggerResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	_, body, err := do(p.client, req, cred)
	if err != nil {
		return registry.TriggerResult{}, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return registry.TriggerResult{IsTriggered: false}, nil
	}

	data, err := decodeObject(body)
	if err != nil {
		return registry.TriggerResult{}, fmt.Errorf("GET %s: %w", url, err)
	}
	return registry.TriggerResult{IsTriggered: true, Data: data}, nil
}

// Poster POSTs the "body" payload field as JSON to "url". The output holds
// the response status and the decoded response, when there is one.
type Poster struct {
	client *http.Client
}

var _ registry.Action = (*Poster)(nil)

// NewPoster creates a poster using client, or http.DefaultClient when nil.
func NewPoster(client *http.Client) *Poster {
	if client == nil {
		client = http.DefaultClient
	}
	return &Poster{client: client}
}

// Run sends the request.
func (p *Poster) Run(ctx context.Context, cred registry.Credential, fields map[string]any) (registry.ActionResult, error) {
	url, err := payload.String(fields, "url")
	if err != nil {
		return registry.ActionResult{}, err
	}

	encoded, err := json.Marshal(fields["body"])
	if err != nil {
		return registry.ActionResult{}, fmt.Errorf("failed to encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return registry.ActionResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	status, body, err := do(p.client, req, cred)
	if err != nil {
		return registry.ActionResult{}, err
	}

	out := map[string]any{
		"url":         url,
		"elapsed_ms":  time.Since(start).Milliseconds(),
		"sent_bytes":  len(encoded),
		"status_code": status,
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if resp, err := decodeObject(body); err == nil {
			out["response"] = resp
		} else {
			out["response"] = string(body)
		}
	}
	return registry.ActionResult{HasRun: true, Data: out}, nil
}

// Register adds the HTTP trigger and action to r, sharing client.
func Register(r *registry.Registry, client *http.Client) error {
	if err := r.RegisterTrigger(ClassPoll, func() registry.Trigger { return NewPoller(client) }); err != nil {
		return err
	}
	return r.RegisterAction(ClassPost, func() registry.Action { return NewPoster(client) })
}

func do(client *http.Client, req *http.Request, cred registry.Credential) (int, []byte, error) {
	req.Header.Set("User-Agent", userAgent)
	if !cred.IsZero() {
		req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: failed to read response: %w", req.Method, req.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 256),
		}
	}
	return resp.StatusCode, body, nil
}

func decodeObject(body []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"value": v}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
