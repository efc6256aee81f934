// Package drive implements the storage provider backed by a cloud drive
// REST API. Access is restricted to the application data folder, so the
// engine can only see files it created itself.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/hearthvault/hearthvault/internal/model"
)

const appDataFolder = "appDataFolder"

// FileInfo describes one remote file.
type FileInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ModifiedTime time.Time `json:"modifiedTime"`
}

// Client is a thin typed wrapper over the drive REST surface. Every call
// carries a bearer token; any non-2xx response becomes a DriveAPIError so
// callers can distinguish 401 (refresh) from 404 (fatal) from the rest
// (transient). Transport errors are returned as-is: no response means the
// network, not the API, failed.
type Client struct {
	base   string
	http   *http.Client
	tokens model.TokenSource
}

func NewClient(base string, httpClient *http.Client, tokens model.TokenSource) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: base, http: httpClient, tokens: tokens}
}

// Create uploads a new file with JSON metadata and content in one
// multipart request and returns the new file ID.
func (c *Client) Create(ctx context.Context, name string, content []byte) (string, error) {
	meta, err := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{appDataFolder},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	metaPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return "", fmt.Errorf("failed to create metadata part: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return "", fmt.Errorf("failed to write metadata part: %w", err)
	}
	dataPart, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json"}})
	if err != nil {
		return "", fmt.Errorf("failed to create content part: %w", err)
	}
	if _, err := dataPart.Write(content); err != nil {
		return "", fmt.Errorf("failed to write content part: %w", err)
	}
	w.Close()

	u := c.base + "/upload/drive/v3/files?uploadType=multipart&fields=id"
	resp, err := c.do(ctx, http.MethodPost, u, "multipart/related; boundary="+w.Boundary(), body.Bytes())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return out.ID, nil
}

// Update replaces the file content with a media-only upload.
func (c *Client) Update(ctx context.Context, fileID string, content []byte) error {
	u := fmt.Sprintf("%s/upload/drive/v3/files/%s?uploadType=media", c.base, url.PathEscape(fileID))
	resp, err := c.do(ctx, http.MethodPatch, u, "application/json", content)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Read downloads the raw file content.
func (c *Client) Read(ctx context.Context, fileID string) ([]byte, error) {
	u := fmt.Sprintf("%s/drive/v3/files/%s?alt=media", c.base, url.PathEscape(fileID))
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return content, nil
}

// ModifiedTime fetches only the file's modification timestamp.
func (c *Client) ModifiedTime(ctx context.Context, fileID string) (*time.Time, error) {
	u := fmt.Sprintf("%s/drive/v3/files/%s?fields=modifiedTime", c.base, url.PathEscape(fileID))
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		ModifiedTime time.Time `json:"modifiedTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode metadata response: %w", err)
	}
	return &out.ModifiedTime, nil
}

// List returns the application's files in the app data folder.
func (c *Client) List(ctx context.Context) ([]FileInfo, error) {
	u := c.base + "/drive/v3/files?spaces=" + appDataFolder + "&fields=files(id,name,modifiedTime)"
	resp, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Files []FileInfo `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}
	return out.Files, nil
}

// Delete removes a remote file.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	u := fmt.Sprintf("%s/drive/v3/files/%s", c.base, url.PathEscape(fileID))
	resp, err := c.do(ctx, http.MethodDelete, u, "", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &model.DriveAPIError{Status: resp.StatusCode, Message: string(msg)}
	}
	return resp, nil
}
