package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nimbusfs/syncengine/pkg/remote"
)

// ProgressFunc is invoked as bytes move across the wire, receiving the
// cumulative count transferred so far. Client calls it when OnProgress is
// set, so progress can be reported without the remote.Store interface
// itself knowing about progress reporting. The engine does not set it.
type ProgressFunc func(transferred int64)

// Client implements remote.Store by first asking a signer Service for a
// presigned URL, then performing the operation itself. It never sees
// long-lived storage credentials.
type Client struct {
	SignerURL  string
	HTTPClient *http.Client
	OnProgress ProgressFunc
}

// NewClient creates a Client targeting the signer service at signerURL.
func NewClient(signerURL string) *Client {
	return &Client{SignerURL: signerURL, HTTPClient: http.DefaultClient}
}

func (c *Client) sign(ctx context.Context, op Operation, key string, size int64) (SignResponse, error) {
	body, err := json.Marshal(SignRequest{Operation: op, Key: key, Size: size})
	if err != nil {
		return SignResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SignerURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return SignResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return SignResponse{}, fmt.Errorf("signer: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SignResponse{}, fmt.Errorf("signer: %s", resp.Status)
	}

	var out SignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SignResponse{}, fmt.Errorf("signer: decode response: %w", err)
	}
	return out, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Upload implements remote.Store.
func (c *Client) Upload(ctx context.Context, key string, size int64, r io.Reader) error {
	signed, err := c.sign(ctx, OpPut, key, size)
	if err != nil {
		return err
	}

	if c.OnProgress != nil {
		r = &countingReader{r: r, onProgress: c.OnProgress}
	}

	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	for k, v := range signed.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("remote: upload %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote: upload %s: %s", key, resp.Status)
	}
	return nil
}

// Download implements remote.Store.
func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	signed, err := c.sign(ctx, OpGet, key, 0)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range signed.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: download %s: %w", key, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, remote.ErrObjectNotFound
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("remote: download %s: %s", key, resp.Status)
	}

	body := io.ReadCloser(resp.Body)
	if c.OnProgress != nil {
		body = &countingReadCloser{r: resp.Body, onProgress: c.OnProgress}
	}
	return body, nil
}

// Delete implements remote.Store.
func (c *Client) Delete(ctx context.Context, key string) error {
	signed, err := c.sign(ctx, OpDelete, key, 0)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, signed.Method, signed.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("remote: delete %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("remote: delete %s: %s", key, resp.Status)
	}
	return nil
}

// Head implements remote.Store using a GET signature, since the HMAC scheme
// has no HEAD-specific operation.
func (c *Client) Head(ctx context.Context, key string) (int64, bool, error) {
	signed, err := c.sign(ctx, OpGet, key, 0)
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, signed.URL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("remote: head %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, false, nil
	}
	return resp.ContentLength, true, nil
}

type countingReader struct {
	r          io.Reader
	total      int64
	onProgress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	c.onProgress(c.total)
	return n, err
}

type countingReadCloser struct {
	r          io.ReadCloser
	total      int64
	onProgress ProgressFunc
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.total += int64(n)
	c.onProgress(c.total)
	return n, err
}

func (c *countingReadCloser) Close() error { return c.r.Close() }

var _ remote.Store = (*Client)(nil)
