// Package transport implements the relay-facing network layer: an HTTP
// client for the store-and-forward message API and blob store, and a
// websocket listener for the push channel.
//
// The relay is a dumb router: it matches records to recipients by
// routing hash and never sees plaintext. Both channels deliver the same
// TransportRecord unit; deduplication downstream makes the overlap
// harmless.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Attam2213/messenger-release/envelope"
)

// UploadResponse is the relay's answer to a blob upload.
type UploadResponse struct {
	FileID   string `json:"fileId"`
	Size     int64  `json:"size"`
	Filename string `json:"filename"`
}

// Client talks to the relay HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a relay client for the given base URL
// (e.g. "http://relay.example:8000").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Send posts one transport record to the relay for store-and-forward
// delivery.
func (c *Client) Send(ctx context.Context, rec *envelope.TransportRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay rejected send: status %d", resp.StatusCode)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"to_hash":  rec.ToHash,
	}).Debug("Record accepted by relay")
	return nil
}

// Check fetches all pending transport records addressed to routingHash.
func (c *Client) Check(ctx context.Context, routingHash string) ([]envelope.TransportRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/check/"+routingHash, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checking messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay check failed: status %d", resp.StatusCode)
	}

	var records []envelope.TransportRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding check response: %w", err)
	}
	return records, nil
}

// Upload stores an (already encrypted) blob on the relay and returns its
// file id.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (*UploadResponse, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("relay rejected upload: status %d", resp.StatusCode)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Upload",
		"file_id":  out.FileID,
		"size":     out.Size,
	}).Debug("Blob uploaded")
	return &out, nil
}

// Download fetches a stored blob by file id.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay download failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
