// Package replicate drives the image-to-video model through the Replicate
// predictions API: create a prediction, then poll until it settles.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// The prompt and generation parameters are fixed configuration; only the
// input image varies per generation.
const videoPrompt = "A romantic scene where two people slowly lean in for a gentle, tender kiss. The camera slowly zooms in capturing this beautiful, intimate moment. Soft romantic lighting, dreamy atmosphere, cinematic quality. The movement should be slow, graceful, and romantic - showing the anticipation and connection between the two people."

type Client struct {
	apiToken   string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	pollInterval time.Duration
	maxAttempts  int
}

func NewClient(apiToken, baseURL, model string, timeout time.Duration, requestsPerMinute int, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &Client{
		apiToken: apiToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:      rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		log:          log,
		pollInterval: 5 * time.Second,
		maxAttempts:  240,
	}
}

// Generate creates a video prediction for the image and polls it to a
// terminal state, returning the output video URL.
func (c *Client) Generate(ctx context.Context, imageURL string) (string, error) {
	predictionID, err := c.createPrediction(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("create prediction: %w", err)
	}
	return c.pollPrediction(ctx, predictionID)
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

func (c *Client) createPrediction(ctx context.Context, imageURL string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	payload := map[string]any{
		"input": map[string]any{
			"image":                    imageURL,
			"prompt":                   videoPrompt,
			"go_fast":                  true,
			"num_frames":               81,
			"resolution":               "480p",
			"sample_shift":             12,
			"frames_per_second":        16,
			"interpolate_output":       true,
			"lora_scale_transformer":   1,
			"lora_scale_transformer_2": 1,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s/predictions", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	c.log.Info("creating video prediction", "model", c.model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post prediction: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		c.log.Error("create prediction failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var created prediction
	if err := json.Unmarshal(rawBody, &created); err != nil {
		return "", fmt.Errorf("decode prediction: %w (body=%s)", err, truncateBody(rawBody))
	}
	if created.ID == "" {
		return "", fmt.Errorf("empty prediction id in response")
	}

	c.log.Info("video prediction created", "prediction_id", created.ID)
	return created.ID, nil
}

func (c *Client) pollPrediction(ctx context.Context, predictionID string) (string, error) {
	url := fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, predictionID)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("get prediction: %w", err)
		}
		rawBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode >= 300 {
			c.log.Error("poll prediction failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
			return "", fmt.Errorf("replicate error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
		}

		var p prediction
		if err := json.Unmarshal(rawBody, &p); err != nil {
			return "", fmt.Errorf("decode prediction: %w (body=%s)", err, truncateBody(rawBody))
		}

		switch p.Status {
		case "succeeded":
			out, err := outputURL(p.Output)
			if err != nil {
				return "", err
			}
			c.log.Info("video prediction completed", "prediction_id", predictionID, "attempt", attempt+1)
			return out, nil
		case "failed", "canceled":
			return "", fmt.Errorf("prediction %s: %v", p.Status, p.Error)
		case "starting", "processing", "queued":
			if attempt%12 == 0 {
				c.log.Info("video prediction pending", "prediction_id", predictionID, "status", p.Status, "attempt", attempt+1)
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.pollInterval):
			}
		default:
			return "", fmt.Errorf("unknown prediction status: %s", p.Status)
		}
	}

	return "", fmt.Errorf("prediction timeout after %d attempts", c.maxAttempts)
}

// outputURL tolerates the model returning either a bare URL string or a list
// of URLs.
func outputURL(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("empty prediction output")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0], nil
	}
	return "", fmt.Errorf("unexpected prediction output: %s", truncateBody(raw))
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
