// Package caption asks a generative model to describe an uploaded image.
package caption

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultTone     = "neutral"
	DefaultLanguage = "english"
)

const systemInstruction = `You are an advanced image captioning assistant. Analyze the image carefully and respond with one short, clear caption describing it.

Guidelines:
- Keep captions concise but descriptive (2-3 sentences maximum)
- Match the requested tone if specified (formal, casual, creative, humorous, etc.)
- Respond in the requested language if specified
- Incorporate any additional context provided by the user
- Focus on the most important visual elements
- Do not include extra commentary or explanations beyond the caption
- Be accurate and objective in your descriptions`

// Request is an image plus the user's customization parameters. Empty
// values fall back to the defaults.
type Request struct {
	Image          []byte
	MIMEType       string
	Tone           string
	Language       string
	AdditionalInfo string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// BuildPrompt appends a clause for every parameter that differs from its
// default.
func BuildPrompt(tone, language, additionalInfo string) string {
	var b strings.Builder
	b.WriteString("Describe this image in one short caption")

	if tone = strings.TrimSpace(tone); tone != "" && !strings.EqualFold(tone, DefaultTone) {
		fmt.Fprintf(&b, " with a %s tone", tone)
	}
	if language = strings.TrimSpace(language); language != "" && !strings.EqualFold(language, DefaultLanguage) {
		fmt.Fprintf(&b, " in %s", language)
	}
	if extra := strings.TrimSpace(additionalInfo); extra != "" {
		fmt.Fprintf(&b, ". Additional context: %s", extra)
	}

	b.WriteString(".")
	return b.String()
}

// contentGenerator is satisfied by *genai.GenerativeModel.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type GeminiGenerator struct {
	client *genai.Client
	model  contentGenerator
}

func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GenAI client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate returns the model's text as-is. Nothing is retried.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	prompt := BuildPrompt(req.Tone, req.Language, req.AdditionalInfo)

	resp, err := g.model.GenerateContent(ctx,
		genai.Blob{MIMEType: req.MIMEType, Data: req.Image},
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate caption: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from AI")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("no caption text in AI response")
	}
	return b.String(), nil
}

func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
