package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"daemon-rpc/message"
)

// MaxBodySize bounds an HTTP reply body read into memory.
const MaxBodySize = 64 << 20

// Credentials are sent as HTTP Basic auth on every request. Nothing is cached
// between calls.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials are configured.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// NewRequest builds the POST carrying one encoded envelope.
func NewRequest(ctx context.Context, endpoint *url.URL, creds Credentials, contentType string, body []byte) (*http.Request, error) {
	target := *endpoint
	target.User = nil // credentials go in the Authorization header, never in the URL
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)
	if !creds.IsZero() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	return req, nil
}

// StatusError is a non-2xx HTTP reply. The body may still carry a JSON-RPC error
// object (bitcoind answers 500 and 404 with one), decoded into RPCError when present.
type StatusError struct {
	Code     int
	Status   string
	Body     []byte
	RPCError *message.Error
}

func (e *StatusError) Error() string {
	if e.RPCError != nil {
		return fmt.Sprintf("http status %d: %s", e.Code, e.RPCError.Error())
	}
	return fmt.Sprintf("http status %d: %s", e.Code, http.StatusText(e.Code))
}

// ReadResponse drains and closes resp.Body, returning the body of a 2xx reply or a
// *StatusError for anything else.
func ReadResponse(resp *http.Response) ([]byte, error) {
	defer CleanlyCloseBody(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: body}
		var envelope struct {
			Error *message.Error `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			serr.RPCError = envelope.Error
		}
		return nil, serr
	}
	return body, nil
}

// CleanlyCloseBody drains and closes an HTTP response body so the connection can be
// reused and HTTP/2 does not answer a half-read body with GOAWAY.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// WriteJSON writes an encoded envelope as an HTTP reply.
func WriteJSON(w http.ResponseWriter, status int, contentType string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}
