// Package assistant generates draft shopping lists from a free-text request
// using the Gemini generateContent REST API.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/dukerupert/mercado/internal/grocery"
	"github.com/dukerupert/mercado/internal/model"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 30 * time.Second
)

// ErrGenerate wraps every failure of a generation request. Callers show one
// retryable message for all of them.
var ErrGenerate = errors.New("could not generate the shopping list, try again")

// ErrNotConfigured is returned when no API key was provided.
var ErrNotConfigured = errors.New("assistant is not configured")

// Client defines the list-generation collaborator.
type Client interface {
	Generate(ctx context.Context, prompt string, budget *float64) ([]model.MarketItem, error)
}

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type geminiClient struct {
	http   *resty.Client
	model  string
	logger *slog.Logger
}

// NewClient creates a configured Gemini client.
func NewClient(cfg Config, logger *slog.Logger) Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.APIKey == "" {
		return disabled{}
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("x-goog-api-key", cfg.APIKey).
		SetHeader("content-type", "application/json").
		SetTimeout(cfg.Timeout)

	return &geminiClient{http: client, model: cfg.Model, logger: logger}
}

type disabled struct{}

func (disabled) Generate(context.Context, string, *float64) ([]model.MarketItem, error) {
	return nil, fmt.Errorf("%w: %w", ErrGenerate, ErrNotConfigured)
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Items       *schema           `json:"items,omitempty"`
	Properties  map[string]schema `json:"properties,omitempty"`
	Required    []string          `json:"required,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
	ResponseSchema   schema `json:"responseSchema"`
}

type generateRequest struct {
	SystemInstruction content          `json:"systemInstruction"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// draft is one record of the structured response. Fields are pointers so a
// missing value can be told apart from zero.
type draft struct {
	Name           string   `json:"name"`
	Quantity       *float64 `json:"quantity"`
	EstimatedPrice *float64 `json:"estimatedPrice"`
	Category       string   `json:"category"`
}

var listSchema = schema{
	Type: "ARRAY",
	Items: &schema{
		Type: "OBJECT",
		Properties: map[string]schema{
			"name":           {Type: "STRING", Description: "Name of the product in Portuguese"},
			"quantity":       {Type: "NUMBER", Description: "Quantity of items"},
			"estimatedPrice": {Type: "NUMBER", Description: "Estimated unit price in BRL"},
			"category":       {Type: "STRING", Description: "Product category"},
		},
		Required: []string{"name", "quantity", "estimatedPrice", "category"},
	},
}

// SystemInstruction builds the instruction sent with every request.
func SystemInstruction(budget *float64) string {
	labels := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		labels[i] = fmt.Sprintf("%q", string(c))
	}

	var b strings.Builder
	b.WriteString("You are a helpful shopping assistant for a Brazilian supermarket context.\n")
	b.WriteString("Your goal is to generate a shopping list based on the user's request.\n")
	b.WriteString("Estimate prices in BRL (Brazilian Real) realistically for the current market.\n")
	fmt.Fprintf(&b, "Categories should be one of: %s.\n", strings.Join(labels, ", "))
	if budget != nil && *budget > 0 {
		fmt.Fprintf(&b, "The user has a budget of R$ %.2f. Try to keep the total estimated cost within this limit.\n", *budget)
	}
	return b.String()
}

func (c *geminiClient) Generate(ctx context.Context, prompt string, budget *float64) ([]model.MarketItem, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrGenerate)
	}

	reqBody := generateRequest{
		SystemInstruction: content{Parts: []part{{Text: SystemInstruction(budget)}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   listSchema,
		},
	}

	start := time.Now()
	var respBody generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("model", c.model).
		SetBody(reqBody).
		SetResult(&respBody).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		return nil, fmt.Errorf("%w: gemini api call: %w", ErrGenerate, err)
	}
	if resp.IsError() {
		c.logger.Warn("gemini api error", "status", resp.StatusCode(), "body", truncate(resp.String(), 512))
		return nil, fmt.Errorf("%w: gemini api status %d", ErrGenerate, resp.StatusCode())
	}

	var text strings.Builder
	if len(respBody.Candidates) > 0 {
		for _, p := range respBody.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}

	items, err := Parse(text.String())
	if err != nil {
		return nil, err
	}
	c.logger.Info("shopping list generated", "items", len(items), "duration", time.Since(start))
	return items, nil
}

// Parse decodes the structured response text into unchecked, estimated
// items. An empty text means an empty list.
func Parse(text string) ([]model.MarketItem, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		text = "[]"
	}

	var drafts []draft
	if err := json.Unmarshal([]byte(text), &drafts); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrGenerate, err)
	}

	items := make([]model.MarketItem, 0, len(drafts))
	for i, d := range drafts {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: item %d has no name", ErrGenerate, i)
		}
		items = append(items, model.MarketItem{
			Name:        name,
			Quantity:    positiveOr(d.Quantity, model.DefaultQuantity),
			Price:       positiveOr(d.EstimatedPrice, 0),
			Category:    grocery.Normalize(d.Category),
			IsEstimated: true,
		})
	}
	return items, nil
}

func positiveOr(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0 {
		return fallback
	}
	return *v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
