// Package ai implements the model-backed capability ports (classifier,
// transcriber, vision describer, embedder) on top of the OpenAI API.
package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	openai "github.com/sashabaranov/go-openai"

	"github.com/chittycc/chittyrouter/core/domain"
)

const DefaultModel = "gpt-4o-mini"

// classifySystemPrompt instructs the model to emit the strict JSON shape
// the pipeline consumes. Anything non-conforming falls back to the
// zero-value classification upstream.
const classifySystemPrompt = `You classify inbound messages for a legal intake gateway.
Respond with a JSON object only:
{"category": one of [case, evidence, compliance, financial, legal, emergency, general],
 "sentiment": one of [positive, neutral, negative],
 "urgency_hint": one of [CRITICAL, HIGH, MEDIUM, LOW],
 "entities": up to 10 short strings naming people, cases, or organizations}`

// Config holds OpenAI adapter settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client wraps one OpenAI connection shared by all capabilities.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewClient creates an OpenAI-backed capability client.
func NewClient(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}
}

// =============================================================================
// Classifier
// =============================================================================

// classifyResult mirrors the JSON the model is asked to produce.
type classifyResult struct {
	Category    string   `json:"category"`
	Sentiment   string   `json:"sentiment"`
	UrgencyHint string   `json:"urgency_hint"`
	Entities    []string `json:"entities"`
}

// Classify sends subject and preview to the model in JSON mode and maps
// the reply to a classification. The caller owns timeout and fallback.
func (c *Client) Classify(ctx context.Context, env *domain.Envelope) (*domain.Classification, error) {
	userPrompt := fmt.Sprintf("Kind: %s\nFrom: %s\nSubject: %s\n\n%s",
		env.Kind, env.Sender(), env.Subject, env.Preview)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: classifySystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("classifier returned no choices")
	}

	var result classifyResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		return nil, fmt.Errorf("classifier returned malformed JSON: %w", err)
	}

	if len(result.Entities) > 10 {
		result.Entities = result.Entities[:10]
	}

	return &domain.Classification{
		Category:    strings.ToLower(strings.TrimSpace(result.Category)),
		Sentiment:   strings.ToLower(strings.TrimSpace(result.Sentiment)),
		UrgencyHint: strings.ToUpper(strings.TrimSpace(result.UrgencyHint)),
		Entities:    result.Entities,
	}, nil
}

// =============================================================================
// Transcriber
// =============================================================================

// Transcribe converts audio to transcript text plus the detected
// language tag via Whisper.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "intake-audio.mp3",
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", "", err
	}
	return resp.Text, resp.Language, nil
}

// =============================================================================
// Vision Describer
// =============================================================================

// Describe renders image or video-frame content as text using the
// vision-capable chat endpoint.
func (c *Client) Describe(ctx context.Context, media []byte, mime string) (string, error) {
	if mime == "" {
		mime = "image/png"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(media))

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Describe this content factually in a few sentences. Mention any visible text, names, dates, or document types.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("describer returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// =============================================================================
// Embedder
// =============================================================================

// Embed returns the embedding vector for one text, used by the vector
// sink for similarity search.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.AdaEmbeddingV2,
		Input: []string{text},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedder returned no data")
	}
	return resp.Data[0].Embedding, nil
}
