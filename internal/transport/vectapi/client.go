// Package vectapi is a client for a self-hosted multimodal embedding server
// that exposes separate image (multipart upload) and text (JSON) endpoints.
package vectapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
)

// maxErrorBody bounds how much of an error response ends up in the error message.
const maxErrorBody = 512

// Config holds the endpoint settings.
type Config struct {
	ImageURL string
	TextURL  string
	APIKey   string // optional bearer token
	Provider string // metrics label
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Client implements domain.MultimodalEmbedder over HTTP.
type Client struct {
	imageURL string
	textURL  string
	apiKey   string
	provider string
	client   *http.Client
	logger   *zap.Logger
}

// New creates a vectapi client.
func New(cfg *Config) *Client {
	provider := cfg.Provider
	if provider == "" {
		provider = "vectapi"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		imageURL: cfg.ImageURL,
		textURL:  cfg.TextURL,
		apiKey:   cfg.APIKey,
		provider: provider,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type textRequest struct {
	Texts []string `json:"texts"`
}

type textResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type imageResponse struct {
	Results []struct {
		Embeddings []float32 `json:"embeddings"`
	} `json:"results"`
}

// Embed implements domain.Embedder.
func (c *Client) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	body, err := json.Marshal(textRequest{Texts: []string{text}})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("marshal: %w", err)
	}

	var out textResponse
	start := time.Now()
	if err := c.post(ctx, metrics.KindText, c.textURL, "application/json", body, &out); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return domain.EmbeddingResult{}, c.fail(metrics.KindText, "empty_response",
			fmt.Errorf("vectapi: no embeddings in text response: %w", domain.ErrEmbedding))
	}
	metrics.EmbeddingSucceeded(c.provider, metrics.KindText, start, len(out.Embeddings[0]))
	return domain.EmbeddingResult{Embedding: out.Embeddings[0]}, nil
}

// EmbedImage implements domain.ImageEmbedder. The image is uploaded as the
// "files" part of a multipart form.
func (c *Client) EmbedImage(ctx context.Context, image []byte) (domain.EmbeddingResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="page.png"`)
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := mw.CreatePart(h)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("create part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("write part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("close multipart: %w", err)
	}

	var out imageResponse
	start := time.Now()
	if err := c.post(ctx, metrics.KindImage, c.imageURL, mw.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return domain.EmbeddingResult{}, err
	}
	if len(out.Results) == 0 || len(out.Results[0].Embeddings) == 0 {
		return domain.EmbeddingResult{}, c.fail(metrics.KindImage, "empty_response",
			fmt.Errorf("vectapi: no embeddings in image response: %w", domain.ErrEmbedding))
	}
	metrics.EmbeddingSucceeded(c.provider, metrics.KindImage, start, len(out.Results[0].Embeddings))
	return domain.EmbeddingResult{Embedding: out.Results[0].Embeddings}, nil
}

// HealthCheck embeds a short text.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.Embed(ctx, "ping"); err != nil {
		return fmt.Errorf("vectapi health: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, kind, url, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return c.fail(kind, "transport", fmt.Errorf("vectapi %s request: %w: %w", kind, domain.ErrEmbedding, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("vectapi %s: status %d: %s: %w", kind, resp.StatusCode, bytes.TrimSpace(snippet), domain.ErrEmbedding)
		if resp.StatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
		}
		return c.fail(kind, "api_error", err)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.fail(kind, "decode", fmt.Errorf("vectapi %s decode: %w: %w", kind, domain.ErrEmbedding, err))
	}
	return nil
}

func (c *Client) fail(kind, errorType string, err error) error {
	metrics.EmbeddingFailed(c.provider, kind, errorType)
	c.logger.Debug("Embedding request failed", zap.String("kind", kind), zap.Error(err))
	return err
}
