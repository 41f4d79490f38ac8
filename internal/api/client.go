// internal/api/client.go
package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/courtkit/rotation/pkg/core"
)

// Client handles communication with a remote formation hub.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new hub client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the hub is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// PublishCode uploads a share code with its formation metadata so the hub
// can list it publicly. The code travels as a file part; formation fields
// become form values.
func (c *Client) PublishCode(code string, f core.Formation) error {
	if code == "" {
		return fmt.Errorf("empty share code")
	}

	// Stream the multipart form
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		_ = writer.WriteField("secret", c.apiKey)
		_ = writer.WriteField("name", f.Name)
		_ = writer.WriteField("system", f.System)
		_ = writer.WriteField("players", strconv.Itoa(len(f.Players)))

		part, err := writer.CreateFormFile("code", "formation.code")
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := io.Copy(part, strings.NewReader(code)); err != nil {
			errCh <- fmt.Errorf("failed to copy code: %w", err)
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/codes/add", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check goroutine error
	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("publish returned status %d", resp.StatusCode)
	}
	return nil
}
