// Package blobstore talks to the object-storage collaborator: obtain a
// signed write location, write the bytes, done. Nothing here retries; a
// rejected write is fatal to the import attempt.
package blobstore

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

const locationTimeout = 15 * time.Second

// WriteLocation is a signed, single-use upload destination. RequiredHeaders
// are signature-bound and must be sent verbatim on the write.
type WriteLocation struct {
	WriteURL        string            `json:"write_url"`
	Key             string            `json:"key"`
	RequiredHeaders map[string]string `json:"required_headers,omitempty"`
}

// Client requests write locations and performs uploads.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the storage collaborator's base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0, // uploads may be large; the request context bounds them
		},
	}
}

// RequestWriteLocation obtains a signed upload destination for the file.
func (c *Client) RequestWriteLocation(ctx context.Context, filename, contentType string) (*WriteLocation, error) {
	ctx, cancel := context.WithTimeout(ctx, locationTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"filename":     filename,
		"content_type": contentType,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/uploads", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upload-location request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting write location: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("write location: unexpected status %d", resp.StatusCode)
	}

	var loc WriteLocation
	if err := json.NewDecoder(resp.Body).Decode(&loc); err != nil {
		return nil, fmt.Errorf("decoding write location: %w", err)
	}
	if loc.WriteURL == "" || loc.Key == "" {
		return nil, fmt.Errorf("write location missing url or key")
	}
	return &loc, nil
}

// Upload writes the file bytes to the signed location. The location's
// required headers are applied verbatim; altering them breaks the signature.
func (c *Client) Upload(ctx context.Context, loc *WriteLocation, r io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, loc.WriteURL, r)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	if size > 0 {
		req.ContentLength = size
	}
	for k, v := range loc.RequiredHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", loc.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: unexpected status %d", loc.Key, resp.StatusCode)
	}
	return nil
}
