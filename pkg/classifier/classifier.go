// Package classifier is the HTTP client for the vision model that
// inspects webcam and screen frames. It returns the model's raw output
// bytes; the alert package is the boundary that gives them shape.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout keeps the classifier call short enough for the
// real-time polling cadence.
const DefaultTimeout = 5 * time.Second

// The proctoring prompt. Kept deliberately lenient: brief glances and
// posture changes are normal exam behavior.
const proctorPrompt = `AI Exam Proctor: Analyze webcam for violations. Respond ONLY with JSON.

REQUIRED SETUP: Full face visible, seated at desk, facing camera.

FLAG AS VIOLATIONS (severity 3-5):
- Student not visible/partial visibility/only wall visible
- Multiple people in frame
- Phone/device in hand
- Reading books/notes
- Talking to someone

IGNORE (normal behavior):
- Brief glances away, looking up, adjusting position, touching face

JSON OUTPUT:
{"is_suspicious": false, "confidence": 0.95, "detected_issues": [], "severity": 1, "description": "Brief observation", "alert_type": "none"}

alert_type: "looking_away"|"multiple_people"|"phone_detected"|"reading_from_material"|"suspicious_activity"|"none"
Flag is_suspicious=true only if 85%+ confident of violation.`

const screenPrompt = "\n\nAlso analyze the screen capture for suspicious activities like switching tabs, opening unauthorized applications, or searching for answers."

// Client talks to an Ollama-compatible generate endpoint hosting a
// vision model.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a classifier client. A non-positive timeout falls
// back to DefaultTimeout.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Thinking string `json:"thinking"`
}

// Analyze submits the webcam frame (and optional screen frame) and
// returns the model's raw verdict bytes. Transport errors and timeouts
// come back as errors; callers map them to "not suspicious" and must
// never block the session throttle on them.
func (c *Client) Analyze(ctx context.Context, webcamB64, screenB64 string) ([]byte, error) {
	prompt := proctorPrompt
	images := []string{webcamB64}
	if screenB64 != "" {
		prompt += screenPrompt
		images = append(images, screenB64)
	}

	reqBody, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Images: images,
		Stream: false,
		Format: "json",
		Options: map[string]any{
			"temperature": 0.2,
			"num_predict": 256,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("classifier: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", err)
	}

	// Some models put the JSON verdict in the thinking field instead of
	// the response field.
	content := gr.Response
	if content == "" {
		content = gr.Thinking
	}
	return []byte(content), nil
}
