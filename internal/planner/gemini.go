// File: internal/planner/gemini.go
package planner

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/karavolt/deskpilot-cli/api/schemas"
)

// GeminiClient implements schemas.LLMClient over the Gemini API. The
// API key comes from the environment (GEMINI_API_KEY / GOOGLE_API_KEY),
// never from config files that could end up in the audit trail.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient builds the client for the configured model.
func NewGeminiClient(ctx context.Context, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create inference client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate runs a single prompt and returns the raw model text.
func (c *GeminiClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(userPrompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		})
	if err != nil {
		return "", fmt.Errorf("inference failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("inference returned no text")
	}
	return text, nil
}

// Close releases nothing today but keeps the contract stable.
func (c *GeminiClient) Close() error { return nil }

var _ schemas.LLMClient = (*GeminiClient)(nil)
