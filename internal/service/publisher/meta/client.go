package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxAttachedMedia caps carousel children and attached photos per post.
const maxAttachedMedia = 10

// GraphError is an error returned by the Graph API itself. Its message
// is surfaced verbatim because it ends up in the job's error_log.
type GraphError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("Meta API Error %d: %s", e.Code, e.Message)
}

func (e *GraphError) ErrorCode() string {
	return strconv.Itoa(e.Code)
}

// Client is a thin Meta Graph API client shared by all Meta publishers.
// Tokens travel in the request body (POST) or query (GET) and are never
// logged.
type Client struct {
	logger  *zap.Logger
	http    *http.Client
	baseURL string

	// Poll policy for media containers. Video transcoding is slower, so
	// the video path waits longer between more attempts.
	imagePollInterval time.Duration
	imagePollAttempts int
	videoPollInterval time.Duration
	videoPollAttempts int
}

func NewClient(graphURL, apiVersion string, logger *zap.Logger) *Client {
	return &Client{
		logger:  logger,
		baseURL: strings.TrimSuffix(graphURL, "/") + "/" + apiVersion,
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		imagePollInterval: 5 * time.Second,
		imagePollAttempts: 30,
		videoPollInterval: 10 * time.Second,
		videoPollAttempts: 60,
	}
}

// idResponse covers the many Graph endpoints that answer with an id.
type idResponse struct {
	ID string `json:"id"`
}

// call performs one Graph API request and decodes the response into out.
// A decoded error object takes precedence over the payload.
func (c *Client) call(ctx context.Context, method, endpoint, token string, params map[string]interface{}, out interface{}) error {
	target := endpoint
	if !strings.HasPrefix(target, "http") {
		target = c.baseURL + "/" + endpoint
	}

	var body io.Reader
	if method == http.MethodGet {
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("invalid meta endpoint %s: %w", endpoint, err)
		}
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
		target = u.String()
	} else {
		payload := make(map[string]interface{}, len(params)+1)
		for k, v := range params {
			payload[k] = v
		}
		payload["access_token"] = token
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode meta request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build meta request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meta request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read meta response: %w", err)
	}

	var envelope struct {
		Error *GraphError `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode meta response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode meta response: %w", err)
		}
	}
	return nil
}

// waitForMediaReady polls a media container until Meta reports it
// FINISHED. An ERROR status or running out of attempts fails the publish
// attempt; the worker's retry policy owns what happens next.
func (c *Client) waitForMediaReady(ctx context.Context, mediaID, token string, maxAttempts int, interval time.Duration) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		var status struct {
			StatusCode string          `json:"status_code"`
			Status     json.RawMessage `json:"status"`
		}
		if err := c.call(ctx, http.MethodGet, mediaID+"?fields=status_code,status", token, nil, &status); err != nil {
			return err
		}

		switch status.StatusCode {
		case "FINISHED":
			return nil
		case "ERROR":
			return fmt.Errorf("Error procesando media: %s", status.Status)
		}

		// IN_PROGRESS - keep waiting
		c.logger.Debug("Media container not ready yet",
			zap.String("media_id", mediaID),
			zap.Int("attempt", attempt+1))
	}

	return errors.New("Timeout: El media tardó demasiado en procesarse")
}
