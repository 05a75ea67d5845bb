package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OCRConfig holds settings for the external OCR service.
type OCRConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultOCRConfig returns defaults for a local OCR sidecar.
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 30 * time.Second,
	}
}

// OCRClient reads prescription text from images via an HTTP OCR
// service. The service reports its confidence on a 0-100 scale;
// ReadText normalizes it to [0,1] before it flows into the
// prescription's overall confidence.
type OCRClient struct {
	cfg    OCRConfig
	http   *http.Client
	logger *zap.Logger
}

// NewOCRClient creates an OCR client.
func NewOCRClient(cfg OCRConfig, logger *zap.Logger) *OCRClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OCRClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ReadText submits an image and returns the recognized text with the
// service confidence normalized to [0,1].
func (c *OCRClient) ReadText(ctx context.Context, image []byte, language string, handwritten bool) (string, float64, error) {
	if len(image) == 0 {
		return "", 0, &Error{Reason: "empty image payload"}
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "prescription")
	if err != nil {
		return "", 0, &Error{Reason: "failed to build OCR request", Err: err}
	}
	if _, err := part.Write(image); err != nil {
		return "", 0, &Error{Reason: "failed to build OCR request", Err: err}
	}
	_ = writer.WriteField("language", language)
	if handwritten {
		_ = writer.WriteField("handwritten", "true")
	}
	if err := writer.Close(); err != nil {
		return "", 0, &Error{Reason: "failed to build OCR request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/ocr", &body)
	if err != nil {
		return "", 0, &Error{Reason: "failed to build OCR request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, &Error{Reason: "OCR service unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, &Error{
			Reason: fmt.Sprintf("OCR service returned %d: %s", resp.StatusCode, payload),
		}
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, &Error{Reason: "invalid OCR response", Err: err}
	}
	// The service scale is 0-100; out-of-range values collapse to 0.
	if out.Confidence < 0 || out.Confidence > 100 {
		out.Confidence = 0
	}
	out.Confidence /= 100

	c.logger.Debug("ocr completed",
		zap.Int("image_bytes", len(image)),
		zap.Float64("confidence", out.Confidence))

	return out.Text, out.Confidence, nil
}
