// Package gemini implements interfaces.AICapabilityClient against Google's
// Gemini API, the C7 AI processor's categorization/rating/embedding backend.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/aptiscout/aptiscout/internal/common"
	"github.com/aptiscout/aptiscout/internal/interfaces"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultMaxURLs        = 20
	DefaultMaxContentSize = 34 * 1024 * 1024 // 34MB
)

// Client implements interfaces.AICapabilityClient.
type Client struct {
	client         *genai.Client
	model          string
	embeddingModel string
	maxURLs        int
	maxContentSize int64
	logger         *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithModel sets the generation model to use
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithEmbeddingModel sets the embedding model to use
func WithEmbeddingModel(model string) ClientOption {
	return func(c *Client) {
		c.embeddingModel = model
	}
}

// WithMaxURLs sets the maximum URLs for URL context
func WithMaxURLs(maxURLs int) ClientOption {
	return func(c *Client) {
		c.maxURLs = maxURLs
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client:         genaiClient,
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		maxURLs:        DefaultMaxURLs,
		maxContentSize: DefaultMaxContentSize,
		logger:         common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Close closes the client
func (c *Client) Close() error {
	// The genai client doesn't have a Close method
	return nil
}

// GenerateContent generates AI content from a prompt
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	c.logger.Debug().Str("model", c.model).Msg("generating content")

	contents := genai.Text(prompt)
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractTextFromResponse(result)
}

// GenerateWithURLContext generates content using Gemini's URL context tool.
// If urls are provided, they are prepended to the prompt as reference URLs.
func (c *Client) GenerateWithURLContext(ctx context.Context, prompt string, urls ...string) (string, error) {
	c.logger.Debug().Str("model", c.model).Int("urls", len(urls)).Msg("generating content with URL context")

	if len(urls) > 0 {
		var sb strings.Builder
		sb.WriteString("Reference URLs:\n")
		for _, u := range urls {
			sb.WriteString("- ")
			sb.WriteString(u)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
		sb.WriteString(prompt)
		prompt = sb.String()
	}

	contents := genai.Text(prompt)
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{URLContext: &genai.URLContext{}}},
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content with URL context: %w", err)
	}

	return extractTextFromResponse(result)
}

// categorizeResponse is the JSON shape the categorize prompt asks the model to return.
type categorizeResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Categorize asks the model to pick the best matching category out of candidates.
func (c *Client) Categorize(ctx context.Context, questionText string, candidates []string) (interfaces.CategorizeResult, error) {
	prompt := fmt.Sprintf(`Classify the following question into exactly one of these categories: %s.
Respond with only a JSON object of the shape {"category": "<one of the categories>", "confidence": <0..1>}.

Question: %s`, strings.Join(candidates, ", "), questionText)

	raw, err := c.GenerateContent(ctx, prompt)
	if err != nil {
		return interfaces.CategorizeResult{}, fmt.Errorf("failed to categorize: %w", err)
	}

	var parsed categorizeResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return interfaces.CategorizeResult{}, fmt.Errorf("failed to parse categorize response: %w", err)
	}
	return interfaces.CategorizeResult{Category: parsed.Category, Confidence: parsed.Confidence}, nil
}

// rateAnswerResponse is the JSON shape the rate-answer prompt asks the model to return.
type rateAnswerResponse struct {
	Score float64 `json:"score"`
	Notes string  `json:"notes"`
}

// RateAnswer asks the model to score question/answer quality on a 0-100 scale,
// with a short rationale fused into C7's AI reviewer notes.
func (c *Client) RateAnswer(ctx context.Context, questionText string, options []string, correctIndex int) (float64, string, error) {
	correct := ""
	if correctIndex >= 0 && correctIndex < len(options) {
		correct = options[correctIndex]
	}

	prompt := fmt.Sprintf(`Evaluate this multiple-choice question for factual correctness and clarity.
Question: %s
Options: %s
Marked correct answer: %s

Respond with only a JSON object of the shape {"score": <0..100>, "notes": "<one sentence rationale>"}.`,
		questionText, strings.Join(options, " | "), correct)

	raw, err := c.GenerateContent(ctx, prompt)
	if err != nil {
		return 0, "", fmt.Errorf("failed to rate answer: %w", err)
	}

	var parsed rateAnswerResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return 0, "", fmt.Errorf("failed to parse rate-answer response: %w", err)
	}
	return parsed.Score, parsed.Notes, nil
}

// EmbedText returns a dense embedding vector for text, used by C8's duplicate
// detector for nearest-neighbor similarity search.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return result.Embeddings[0].Values, nil
}

// extractTextFromResponse extracts text from a generate content response
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	return text, nil
}

// extractJSON strips markdown code fences the model sometimes wraps JSON in
// and returns the first balanced `{...}` substring found.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// Ensure Client implements AICapabilityClient
var _ interfaces.AICapabilityClient = (*Client)(nil)
