// Package openai adapts the OpenAI API to the creature pipeline: a vision
// model describes the uploaded picture and an image model draws the result.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/devilmonastery/critterforge/internal/domain/entities"
	"github.com/devilmonastery/critterforge/internal/pkg/apperr"
	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
)

const describePrompt = `You design collectible creatures. Look at the picture and invent the creature it shows or inspires.
Answer with one JSON object and nothing else, using exactly these keys:
"name" (string), "type" (string, e.g. fire, water, forest), "color" (string),
"description" (markdown, at most three short paragraphs), "abilities" (array of up to 4 strings),
"base_stats" (object with integer "health", "attack", "defense", "speed", "intelligence", "special", each 0-100),
"rarity" (one of common, uncommon, rare, epic, legendary), "habitat" (string), "behavior" (string),
"preferred_items" (array of strings), "height" (string), "weight" (string).`

// Config holds the API settings
type Config struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	ImageModel  string
	ImageSize   string
	Timeout     time.Duration
}

// Client implements services.Describer and services.Illustrator
type Client struct {
	api *goopenai.Client
	cfg Config
	log *slog.Logger
}

// NewClient creates a client. Requests are not retried.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is not configured")
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = goopenai.GPT4oMini
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = goopenai.CreateImageModelDallE3
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = goopenai.CreateImageSize1024x1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	apiCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: metrics.NewTransport("openai", nil),
	}

	return &Client{
		api: goopenai.NewClientWithConfig(apiCfg),
		cfg: cfg,
		log: slog.Default().With(slog.String("component", "openai")),
	}, nil
}

// DescribeImage asks the vision model for a creature sheet
func (c *Client) DescribeImage(ctx context.Context, imageURL string) (sheet *entities.CreatureSheet, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordUpstreamCall("openai", "describe", time.Since(start), err)
	}()

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: c.cfg.VisionModel,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: describePrompt},
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{Type: goopenai.ChatMessagePartTypeText, Text: "Describe this creature."},
					{Type: goopenai.ChatMessagePartTypeImageURL, ImageURL: &goopenai.ChatMessageImageURL{
						URL:    imageURL,
						Detail: goopenai.ImageURLDetailLow,
					}},
				},
			},
		},
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: 1200,
	})
	if err != nil {
		return nil, c.classify("describe", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.New(apperr.ErrUpstreamService, "Image analysis returned no result")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	sheet = &entities.CreatureSheet{}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), sheet); err != nil {
		c.log.Warn("unparseable creature sheet", slog.String("error", err.Error()))
		return nil, apperr.Wrap(apperr.ErrUpstreamService, "Image analysis returned an invalid result", err)
	}
	return sheet, nil
}

// Illustrate draws the creature and returns the PNG bytes
func (c *Client) Illustrate(ctx context.Context, sheet *entities.CreatureSheet) (png []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordUpstreamCall("openai", "illustrate", time.Since(start), err)
	}()

	resp, err := c.api.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         illustrationPrompt(sheet),
		Model:          c.cfg.ImageModel,
		N:              1,
		Size:           c.cfg.ImageSize,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, c.classify("illustrate", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, apperr.New(apperr.ErrUpstreamService, "Image generation returned no image")
	}

	png, err = base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrUpstreamService, "Image generation returned an invalid image", err)
	}
	return png, nil
}

// classify maps API failures onto error kinds. A prompt or image the
// provider refuses is the caller's problem; everything else is upstream.
func (c *Client) classify(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		c.log.Warn("openai request failed",
			slog.String("op", op),
			slog.Int("status", apiErr.HTTPStatusCode),
			slog.String("type", apiErr.Type))
		if code, _ := apiErr.Code.(string); code == "content_policy_violation" {
			return apperr.Wrap(apperr.ErrInvalidRequest, "The image was rejected by the content filter", err)
		}
		return apperr.Wrap(apperr.ErrUpstreamService, "AI service error", err)
	}

	c.log.Warn("openai request failed", slog.String("op", op), slog.String("error", err.Error()))
	return apperr.Wrap(apperr.ErrUpstreamService, "AI service unavailable", err)
}

func illustrationPrompt(sheet *entities.CreatureSheet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A full-body illustration of %s, a %s-type creature", sheet.Name, sheet.Type)
	if sheet.Color != "" {
		fmt.Fprintf(&b, " with %s coloring", sheet.Color)
	}
	if sheet.Habitat != "" {
		fmt.Fprintf(&b, ", shown in its habitat: %s", sheet.Habitat)
	}
	b.WriteString(". Collectible card art style, centered, plain background, no text.")
	if len(sheet.Abilities) > 0 {
		fmt.Fprintf(&b, " Hint at its abilities: %s.", strings.Join(sheet.Abilities, ", "))
	}
	return b.String()
}

// stripCodeFence removes a ```json fence some models wrap JSON in
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
