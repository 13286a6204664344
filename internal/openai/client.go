// Package openai calls the OpenAI images API to merge the two uploaded
// photos into a single romantic scene.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const imageModel = "gpt-image-1"

// The prompt is fixed generation configuration, not user input.
const editPrompt = `Create a beautiful romantic scene combining these two people into one image. Requirements:
- Both people's faces must be clearly visible and close-up
- Preserve exact facial features and make them highly recognizable
- Keep the original appearance and characteristics of each person
- Place them in a romantic setting like sunset dinner, garden walk, stargazing, or dancing
- Family-friendly and appropriate content only
- Photorealistic style with cinematic lighting
- Beautiful romantic atmosphere
- The faces should be the main focus and clearly identifiable`

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewClient(apiKey, baseURL string, timeout time.Duration, requestsPerMinute int, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		log:     log,
	}
}

// Edit sends both photos to the images/edits endpoint and returns the decoded
// result image. Single call, no partial results.
func (c *Client) Edit(ctx context.Context, photo1, photo2 []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("model", imageModel); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("prompt", editPrompt); err != nil {
		return nil, fmt.Errorf("write prompt field: %w", err)
	}
	for i, photo := range [][]byte{photo1, photo2} {
		part, err := writer.CreateFormFile("image[]", fmt.Sprintf("photo%d.jpg", i+1))
		if err != nil {
			return nil, fmt.Errorf("create image part: %w", err)
		}
		if _, err := part.Write(photo); err != nil {
			return nil, fmt.Errorf("write image part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/images/edits", &body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.log.Info("requesting romantic image", "model", imageModel)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post images edit: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("image edit failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("openai error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("no image data in response")
	}

	image, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image base64: %w", err)
	}
	return image, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
