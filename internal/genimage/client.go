// Package genimage calls the Gemini image model to compose the final photo.
package genimage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

type Image struct {
	Data     []byte
	MIMEType string
}

type Request struct {
	Instruction string
	Face        Image
	Background  Image
	Logo        Image
	AspectRatio string
}

type Response struct {
	Image    []byte
	MIMEType string
	Usage    Usage
}

type Config struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Client struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	pricing Pricing
	logger  zerolog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newClient(gc.Models, cfg, logger), nil
}

func newClient(models contentGenerator, cfg Config, logger zerolog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	return &Client{
		models:  models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "gemini",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			},
		}),
		pricing: DefaultPricing,
		logger:  logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) Pricing() Pricing {
	return c.pricing
}

// GenerateImage sends the instruction followed by the labelled face,
// background and logo images and returns the first image in the reply.
func (c *Client) GenerateImage(ctx context.Context, req Request) (Response, error) {
	if len(req.Face.Data) == 0 {
		return Response{}, fmt.Errorf("%w: face image is empty", domain.ErrUpstream)
	}
	if len(req.Background.Data) == 0 {
		return Response{}, fmt.Errorf("%w: background image is empty", domain.ErrUpstream)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("%w: wait for generation slot: %v", domain.ErrUpstream, err)
	}

	parts := []*genai.Part{
		{Text: req.Instruction},
		{Text: "FIRST IMAGE (MAIN PERSON):"},
		inline(req.Face, "image/jpeg"),
		{Text: "SECOND IMAGE (BACKGROUND ONLY):"},
		inline(req.Background, "image/jpeg"),
	}
	if len(req.Logo.Data) > 0 {
		parts = append(parts,
			&genai.Part{Text: "THIRD IMAGE (LOGO):"},
			inline(req.Logo, "image/png"),
		)
	}
	contents := []*genai.Content{{Role: string(genai.RoleUser), Parts: parts}}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = domain.DefaultAspectRatio
	}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE"},
		ImageConfig:        &genai.ImageConfig{AspectRatio: aspect},
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.models.GenerateContent(callCtx, c.model, contents, config)
	})
	if err != nil {
		return Response{}, fmt.Errorf("%w: gemini generate: %v", domain.ErrUpstream, err)
	}

	resp, _ := out.(*genai.GenerateContentResponse)
	result, err := c.extract(resp)
	if err != nil {
		return Response{}, err
	}

	c.logger.Info().
		Str("model", c.model).
		Int("bytes", len(result.Image)).
		Int64("prompt_tokens", result.Usage.PromptTokens).
		Float64("cost_usd", result.Usage.CostUSD).
		Dur("duration", time.Since(started)).
		Msg("image generated")
	return result, nil
}

func inline(img Image, fallbackMIME string) *genai.Part {
	mime := img.MIMEType
	if mime == "" {
		mime = fallbackMIME
	}
	return &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: mime}}
}

func (c *Client) extract(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil {
		return Response{}, fmt.Errorf("%w: empty response from gemini", domain.ErrUpstream)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return Response{}, fmt.Errorf("%w: request blocked: %s", domain.ErrUpstream, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return Response{}, fmt.Errorf("%w: no response candidates from gemini", domain.ErrUpstream)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Response{}, fmt.Errorf("%w: invalid response structure from gemini", domain.ErrUpstream)
	}

	var usage Usage
	if um := resp.UsageMetadata; um != nil {
		usage.PromptTokens = int64(um.PromptTokenCount)
		usage.OutputTokens = int64(um.CandidatesTokenCount)
	}

	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			usage.ImagesOut = 1
			usage.CostUSD = c.pricing.Cost(usage.PromptTokens, usage.OutputTokens, usage.ImagesOut)
			return Response{
				Image:    part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
				Usage:    usage,
			}, nil
		}
		if part.Text != "" {
			c.logger.Debug().Str("text", part.Text).Msg("gemini text part")
		}
	}
	return Response{}, fmt.Errorf("%w: no image data in gemini response", domain.ErrUpstream)
}
