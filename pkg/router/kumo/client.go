package kumo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// errNotFound is returned when the device does not know a parameter.
var errNotFound = errors.New("parameter not found")

// param is one decoded config API reply.
type param struct {
	Value string
	Name  string
	Null  bool
}

// label prefers the display name over the raw value. A blank name falls
// back to the value.
func (p param) label() string {
	if name := strings.TrimSpace(p.Name); name != "" {
		return name
	}
	return strings.TrimSpace(p.Value)
}

type paramReply struct {
	Value     json.RawMessage `json:"value"`
	ValueName json.RawMessage `json:"value_name"`
}

// client talks to the config API. Requests are paced by limiter.
type client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

func newClient(base string, httpClient *http.Client, limiter *rate.Limiter) *client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &client{base: base, http: httpClient, limiter: limiter}
}

// get reads one parameter.
func (c *client) get(ctx context.Context, name string, timeout time.Duration) (param, error) {
	body, err := c.do(ctx, getPath(name), timeout)
	if err != nil {
		return param{}, err
	}
	return decodeParam(body)
}

// set writes one parameter. The reply body is not inspected beyond the
// status code.
func (c *client) set(ctx context.Context, name, value string, timeout time.Duration) error {
	_, err := c.do(ctx, setPath(name, value), timeout)
	return err
}

func (c *client) do(ctx context.Context, path string, timeout time.Duration) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}
	return body, nil
}

func decodeParam(body []byte) (param, error) {
	var reply paramReply
	if err := json.Unmarshal(bytes.TrimSpace(body), &reply); err != nil {
		return param{}, fmt.Errorf("decode config reply: %w", err)
	}
	value, null := rawText(reply.Value)
	name, _ := rawText(reply.ValueName)
	return param{Value: value, Name: name, Null: null}, nil
}

// rawText renders a JSON scalar as text; null or missing reports true.
func rawText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), false
	}
	return string(raw), false
}
