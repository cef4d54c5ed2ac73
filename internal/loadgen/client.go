package loadgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	json "github.com/goccy/go-json"
)

// ErrThrottled is returned when the service rate limits a request.
var ErrThrottled = errors.New("rate limited")

// envelope is the service's success body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// client wraps http.Client with the service's envelope handling.
type client struct {
	http *http.Client
	base string
}

func newClient(cfg Config) *client {
	return &client{http: &http.Client{Timeout: cfg.Timeout}, base: cfg.BaseURL}
}

// getJSON performs a GET and decodes the envelope data into out.
func (c *client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// sendJSON performs a request with a JSON body.
func (c *client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// submit uploads one synthetic video.
func (c *client) submit(ctx context.Context, s submission, out any) error {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fields := map[string]string{
		"sportCategory":  s.SportCategory,
		"assessmentType": s.AssessmentType,
		"athleteId":      s.AthleteID,
		"metadata":       s.Metadata,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename=%q`, s.FileName))
	h.Set("Content-Type", "video/mp4")
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create video part: %w", err)
	}
	if _, err := part.Write(s.Video); err != nil {
		return fmt.Errorf("failed to write video: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/assessments/submit", buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrThrottled
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return fmt.Errorf("HTTP %d %s: %s", resp.StatusCode, e.Code, e.Message)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
