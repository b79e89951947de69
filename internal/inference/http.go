package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/cropwatch/internal/config"
	"github.com/banshee-data/cropwatch/internal/httputil"
	"github.com/banshee-data/cropwatch/internal/raster"
)

// HTTPClassifier talks to the model service over JSON, tensor data carried
// as base64 little-endian float32.
type HTTPClassifier struct {
	http    httputil.HTTPClient
	baseURL string
	version string
	classes int
	bands   int
	frames  int
	patch   int
}

// NewHTTPClassifier builds a classifier client from pipeline configuration.
func NewHTTPClassifier(cfg *config.PipelineConfig, h httputil.HTTPClient) *HTTPClassifier {
	if h == nil {
		h = httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute})
	}
	return &HTTPClassifier{
		http:    h,
		baseURL: cfg.GetModelURL(),
		version: cfg.GetModelVersion(),
		classes: cfg.GetClassCount(),
		bands:   cfg.GetBandCount(),
		frames:  cfg.GetFrameCount(),
		patch:   cfg.GetPatchSizePx(),
	}
}

// NumClasses returns the size of the model's class vocabulary.
func (c *HTTPClassifier) NumClasses() int { return c.classes }

// Version returns the model version this client expects.
func (c *HTTPClassifier) Version() string { return c.version }

// Health probes the model service and verifies the served model version.
// Run at startup; a failure here aborts the process rather than letting
// every tile fail later.
func (c *HTTPClassifier) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return &ModelUnavailableError{URL: c.baseURL, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ModelUnavailableError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &ModelUnavailableError{URL: c.baseURL,
			Err: fmt.Errorf("health status %d", resp.StatusCode)}
	}
	var hr struct {
		Status  string `json:"status"`
		Version string `json:"model_version"`
	}
	if err := json.Unmarshal(body, &hr); err != nil {
		return &ModelUnavailableError{URL: c.baseURL, Err: fmt.Errorf("parse health: %w", err)}
	}
	if hr.Version != c.version {
		return &ModelUnavailableError{URL: c.baseURL,
			Err: fmt.Errorf("serving %q, want %q", hr.Version, c.version)}
	}
	return nil
}

type inferRequest struct {
	Model  string `json:"model"`
	Bands  int    `json:"bands"`
	Frames int    `json:"frames"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Data   string `json:"data"` // base64 little-endian float32
}

type inferResponse struct {
	Classes int    `json:"classes"`
	Height  int    `json:"height"`
	Width   int    `json:"width"`
	Data    string `json:"data"` // base64 little-endian float32 logits
}

// Infer classifies one patch-sized tensor.
func (c *HTTPClassifier) Infer(ctx context.Context, t *raster.Tensor) (*ClassLogits, error) {
	if t.Bands != c.bands || t.Frames != c.frames || t.Height != c.patch || t.Width != c.patch {
		return nil, &InputShapeError{
			Got:  fmt.Sprintf("%dx%dx%dx%d", t.Bands, t.Frames, t.Height, t.Width),
			Want: fmt.Sprintf("%dx%dx%dx%d", c.bands, c.frames, c.patch, c.patch),
		}
	}

	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, t.Data); err != nil {
		return nil, fmt.Errorf("encode tensor: %w", err)
	}
	payload, err := json.Marshal(inferRequest{
		Model:  c.version,
		Bands:  t.Bands,
		Frames: t.Frames,
		Height: t.Height,
		Width:  t.Width,
		Data:   base64.StdEncoding.EncodeToString(raw.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal infer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/infer", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ModelUnavailableError{URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ModelUnavailableError{URL: c.baseURL, Err: err}
	}
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, &InputShapeError{Got: "rejected by model", Want: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model infer: status %d: %s", resp.StatusCode, body)
	}

	var ir inferResponse
	if err := json.Unmarshal(body, &ir); err != nil {
		return nil, fmt.Errorf("model infer: parse response: %w", err)
	}
	rawLogits, err := base64.StdEncoding.DecodeString(ir.Data)
	if err != nil {
		return nil, fmt.Errorf("model infer: decode logits: %w", err)
	}
	logits := &ClassLogits{
		Classes: ir.Classes,
		Height:  ir.Height,
		Width:   ir.Width,
		Data:    make([]float32, ir.Classes*ir.Height*ir.Width),
	}
	if len(rawLogits) != len(logits.Data)*4 {
		return nil, fmt.Errorf("model infer: %d logit bytes for shape %dx%dx%d",
			len(rawLogits), ir.Classes, ir.Height, ir.Width)
	}
	if err := binary.Read(bytes.NewReader(rawLogits), binary.LittleEndian, logits.Data); err != nil {
		return nil, fmt.Errorf("model infer: read logits: %w", err)
	}
	if logits.Classes != c.classes {
		return nil, fmt.Errorf("model infer: %d classes in response, want %d", logits.Classes, c.classes)
	}
	return logits, nil
}
