// Package client talks to a graphlog server.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/sumdb/note"

	"github.com/relves/graphlog/pkg/reid"
	"github.com/relves/graphlog/pkg/server"
	"github.com/relves/graphlog/pkg/tlog"
)

var (
	// ErrRejected means the server refused a record's signature or id binding.
	ErrRejected = errors.New("record rejected")
	// ErrNotFound means no record matched.
	ErrNotFound = errors.New("record not found")
	// ErrEmpty means the log holds no records.
	ErrEmpty = errors.New("log is empty")
	// ErrNotImplemented means the server does not support the request.
	ErrNotImplemented = errors.New("not implemented")
	// ErrMalformed means the server could not parse the request.
	ErrMalformed = errors.New("malformed request")
)

const maxResponseBytes = 64 << 20

// Client is a graphlog wire client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the server at baseURL. A bare host or host:port
// is treated as http.
func New(baseURL string, opts ...Option) *Client {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish submits rec, signed by the private half of publicKey, and returns
// its index in the log.
func (c *Client) Publish(ctx context.Context, rec *reid.Record, publicKey ed25519.PublicKey) (uint64, error) {
	line, err := rec.Encode()
	if err != nil {
		return 0, err
	}
	pemText, err := reid.MarshalPublicKeyPEM(publicKey)
	if err != nil {
		return 0, err
	}
	req := server.PublishRequest{
		Reid: line,
		Pubk: base64.StdEncoding.EncodeToString([]byte(pemText)),
	}

	var resp server.PublishResponse
	status, err := c.do(ctx, http.MethodPost, "/publish", req, &resp)
	if err != nil {
		return 0, err
	}
	if status != http.StatusCreated {
		return 0, unexpected(status)
	}
	return resp.Index, nil
}

// Tail returns the most recently published record. It returns ErrEmpty
// when the log has no records.
func (c *Client) Tail(ctx context.Context) (*reid.Record, error) {
	var resp server.RecordResponse
	status, err := c.do(ctx, http.MethodGet, "/tail", nil, &resp)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return decodeRecord(resp.Reid)
	case http.StatusNoContent:
		return nil, ErrEmpty
	default:
		return nil, unexpected(status)
	}
}

// TailN returns up to n of the most recent records, oldest first.
func (c *Client) TailN(ctx context.Context, n int) ([]*reid.Record, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrMalformed, n)
	}
	var lines []string
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tail_%d", n), nil, &lines)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpected(status)
	}
	return decodeRecords(lines)
}

// TailAll asks for the whole log. Current servers answer ErrNotImplemented.
func (c *Client) TailAll(ctx context.Context) ([]*reid.Record, error) {
	var lines []string
	status, err := c.do(ctx, http.MethodGet, "/tail_all", nil, &lines)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpected(status)
	}
	return decodeRecords(lines)
}

// LookUp returns the newest record with the given id, or ErrNotFound.
func (c *Client) LookUp(ctx context.Context, id []byte) (*reid.Record, error) {
	req := server.LookUpRequest{IDB64: base64.StdEncoding.EncodeToString(id)}
	var resp server.RecordResponse
	status, err := c.do(ctx, http.MethodPost, "/look_up", req, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, unexpected(status)
	}
	return decodeRecord(resp.Reid)
}

// Checkpoint fetches the signed checkpoint and verifies it with verifier.
func (c *Client) Checkpoint(ctx context.Context, verifier note.Verifier) (tlog.Checkpoint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/checkpoint", nil)
	if err != nil {
		return tlog.Checkpoint{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tlog.Checkpoint{}, fmt.Errorf("checkpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return tlog.Checkpoint{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return tlog.Checkpoint{}, statusError(resp.StatusCode, data)
	}
	return tlog.OpenCheckpoint(data, verifier)
}

// do sends a JSON request and decodes a 200 or 201 reply into out. Failure
// statuses come back as errors from statusError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return 0, fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusNoContent:
		return resp.StatusCode, nil
	default:
		return resp.StatusCode, statusError(resp.StatusCode, data)
	}
}

// statusError maps a failure status onto the package's sentinel errors.
func statusError(status int, body []byte) error {
	var e server.ErrorResponse
	msg := ""
	if json.Unmarshal(body, &e) == nil {
		msg = e.Error
	}

	var sentinel error
	switch status {
	case http.StatusForbidden:
		sentinel = ErrRejected
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusNotImplemented:
		sentinel = ErrNotImplemented
	case http.StatusBadRequest:
		sentinel = ErrMalformed
	default:
		return fmt.Errorf("server returned status %d: %s", status, msg)
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

func unexpected(status int) error {
	return fmt.Errorf("unexpected status %d", status)
}

func decodeRecord(line string) (*reid.Record, error) {
	rec, err := reid.Decode(line)
	if err != nil {
		return nil, fmt.Errorf("server sent an undecodable record: %w", err)
	}
	return rec, nil
}

func decodeRecords(lines []string) ([]*reid.Record, error) {
	records := make([]*reid.Record, 0, len(lines))
	for _, line := range lines {
		rec, err := decodeRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
