package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docbench/internal/domain"
	"github.com/kailas-cloud/docbench/internal/metrics"
)

const purposeGenerate = "generate"

// Generator synthesizes query bundles from a context page and a target page
// through a multimodal chat completion.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	prompts     map[domain.Language]string
	userPrompt  string
	logger      *zap.Logger
}

// NewGenerator creates a query generator. Languages missing from prompts use
// DefaultSystemPrompt; an empty userPrompt uses DefaultUserPrompt.
func NewGenerator(cfg *Config, prompts map[domain.Language]string, userPrompt string) *Generator {
	if userPrompt == "" {
		userPrompt = DefaultUserPrompt
	}
	return &Generator{
		client:      newClient(cfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		prompts:     prompts,
		userPrompt:  userPrompt,
		logger:      loggerOrNop(cfg.Logger),
	}
}

type generatedQueries struct {
	Main       string `json:"main_query"`
	Secondary  string `json:"secondary_query"`
	Visual     string `json:"visual_query"`
	Multimodal string `json:"multimodal_query"`
}

// Generate implements domain.QueryGenerator.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.QueryBundle, domain.Usage, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt(req.Language)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					textPart(g.userPrompt),
					imagePart(req.ContextImage),
					imagePart(req.PageImage),
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		MaxTokens:      g.maxTokens,
		Temperature:    g.temperature,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, chatReq)
	metrics.GenerationRequestDuration.WithLabelValues(purposeGenerate, g.model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(purposeGenerate, g.model, "error").Inc()
		return domain.QueryBundle{}, domain.Usage{}, parseAPIError("generation", err, domain.ErrGeneration)
	}

	usage := usageOf(resp.Usage)
	recordTokens(purposeGenerate, g.model, usage)

	bundle, err := g.parse(resp, req.Language)
	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(purposeGenerate, g.model, "invalid").Inc()
		return domain.QueryBundle{}, usage, err
	}
	metrics.GenerationRequestsTotal.WithLabelValues(purposeGenerate, g.model, "success").Inc()
	return bundle, usage, nil
}

func (g *Generator) parse(resp openai.ChatCompletionResponse, lang domain.Language) (domain.QueryBundle, error) {
	if len(resp.Choices) == 0 {
		return domain.QueryBundle{}, fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}
	content := stripFences(resp.Choices[0].Message.Content)
	if content == "" || content == "null" {
		return domain.QueryBundle{}, fmt.Errorf("%w: null response", domain.ErrGeneration)
	}

	var out generatedQueries
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		g.logger.Debug("Malformed generation output", zap.String("content", content))
		return domain.QueryBundle{}, fmt.Errorf("%w: malformed response: %w", domain.ErrGeneration, err)
	}
	bundle, err := domain.NewQueryBundle(lang, out.Main, out.Secondary, out.Visual, out.Multimodal)
	if err != nil {
		return domain.QueryBundle{}, fmt.Errorf("%w: %w", domain.ErrGeneration, err)
	}
	return bundle, nil
}

func (g *Generator) systemPrompt(lang domain.Language) string {
	if p, ok := g.prompts[lang]; ok && p != "" {
		return p
	}
	return DefaultSystemPrompt(lang)
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *Generator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func recordTokens(purpose, model string, u domain.Usage) {
	if u.TotalTokens <= 0 {
		return
	}
	metrics.GenerationTokensTotal.WithLabelValues(purpose, model, "prompt").Add(float64(u.PromptTokens))
	metrics.GenerationTokensTotal.WithLabelValues(purpose, model, "completion").Add(float64(u.CompletionTokens))
	metrics.GenerationTokensTotal.WithLabelValues(purpose, model, "total").Add(float64(u.TotalTokens))
}
