package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/workflow"
)

// Client talks to a running nameflow API. Error envelopes carrying a workflow
// kind come back as *workflow.Error so callers can use errors.Is.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// APIError is a non-2xx response that does not map to a workflow kind.
type APIError struct {
	Status   int
	Envelope ErrorEnvelope
}

func (e *APIError) Error() string {
	if e.Envelope.Message != "" {
		return fmt.Sprintf("api returned %d: %s", e.Status, e.Envelope.Message)
	}
	return fmt.Sprintf("api returned %d", e.Status)
}

// Health reports whether a nameflow server answers at BaseURL.
func (c *Client) Health(ctx context.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &body); err != nil {
		return err
	}
	if body.Status != healthMagic {
		return errors.Errorf("unexpected health status %q", body.Status)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, id string) (*db.NamingRequest, error) {
	var req db.NamingRequest
	if err := c.do(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(id), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) AvailableTransitions(ctx context.Context, id string) ([]workflow.Status, error) {
	var view transitionsView
	if err := c.do(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(id)+"/transitions", nil, &view); err != nil {
		return nil, err
	}
	return view.AvailableTransitions, nil
}

// Transition moves the request to target. A nil in.ReviewNotes leaves the notes unchanged.
func (c *Client) Transition(ctx context.Context, id string, target workflow.Status, in workflow.TransitionInput) (*db.NamingRequest, error) {
	body := transitionBody{Status: string(target), Comment: in.Comment, ReviewNotes: in.ReviewNotes}
	var req db.NamingRequest
	if err := c.do(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(id)+"/transitions", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) Claim(ctx context.Context, id string) (*db.NamingRequest, error) {
	var req db.NamingRequest
	if err := c.do(ctx, http.MethodPost, "/api/requests/"+url.PathEscape(id)+"/claim", nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "reach %s", c.BaseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var env ErrorEnvelope
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&env)

	switch kind := workflow.Kind(env.Code); kind {
	case workflow.KindNotFound, workflow.KindForbidden, workflow.KindInvalidTransition,
		workflow.KindAlreadyClaimed, workflow.KindConflict:
		return &workflow.Error{Kind: kind, Reason: env.Meta["reason"], Message: env.Message}
	}
	return &APIError{Status: resp.StatusCode, Envelope: env}
}
