// Package clients talks to the relay's REST API and to the AI assist
// function on behalf of the lesson-room participant.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg"
)

var (
	ErrRateLimited   = errors.New("clients: rate limited")
	ErrQuotaExceeded = errors.New("clients: quota exceeded")
	ErrEmptyBlob     = errors.New("clients: empty recording")
)

const maxResponseBody = 1 << 20

// StatusError is a non-2xx API response. Is matches the pkg sentinel for
// the status, so callers can test errors.Is(err, pkg.ErrNotFound).
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("api: %d %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusNotFound:
		return target == pkg.ErrNotFound
	case http.StatusUnauthorized:
		return target == pkg.ErrUnauthorized
	case http.StatusForbidden:
		return target == pkg.ErrForbidden
	case http.StatusBadRequest:
		return target == pkg.ErrBadRequest
	case http.StatusRequestEntityTooLarge:
		return target == pkg.ErrPayloadTooLarge
	case http.StatusTooManyRequests:
		return target == pkg.ErrTooManyRequests || target == ErrRateLimited
	}
	return false
}

// api is the relay REST transport shared by the typed clients.
type api struct {
	baseURL string
	token   string
	hc      *http.Client
}

// NewHTTPClient returns the client used when none is supplied.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			TLSHandshakeTimeout: 5 * time.Second,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func newAPI(baseURL, token string, hc *http.Client) *api {
	if hc == nil {
		hc = NewHTTPClient()
	}
	return &api{baseURL: strings.TrimRight(baseURL, "/"), token: token, hc: hc}
}

// do sends one request and decodes the {success, data, error} envelope's
// data into out, when out is non-nil.
func (a *api) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if len(raw) > 0 {
		// a proxy may answer with plain text; the status still decides
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}
