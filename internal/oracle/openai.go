package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI backs both oracle capabilities with chat completions.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed oracle.
func NewOpenAI(apiKey, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai oracle requires an API key")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Relate asks the model for a relatedness judgement as strict JSON.
func (o *OpenAI) Relate(ctx context.Context, a, b NodeView) (Relation, error) {
	prompt := relatePrompt(a, b)

	content, err := o.complete(ctx, prompt)
	if err != nil {
		return Relation{}, err
	}

	var parsed struct {
		Score      float64 `json:"score"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), &parsed); err != nil {
		return Relation{}, fmt.Errorf("parse relate response: %w", err)
	}

	return Relation{
		Score:      clamp01(parsed.Score),
		Confidence: clamp01(parsed.Confidence),
	}, nil
}

// Summarize asks the model for a concise synthesis of the members.
func (o *OpenAI) Summarize(ctx context.Context, members []NodeView) (string, error) {
	if len(members) == 0 {
		return "", fmt.Errorf("no members to summarize")
	}

	content, err := o.complete(ctx, summarizePrompt(members))
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("model returned empty summary")
	}
	return content, nil
}

func (o *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func relatePrompt(a, b NodeView) string {
	ctxA, _ := json.Marshal(a.Context)
	ctxB, _ := json.Marshal(b.Context)
	return fmt.Sprintf(`Rate how strongly these two memories are related.

Memory A: %s
Context A: %s

Memory B: %s
Context B: %s

Respond with only a JSON object: {"score": <0..1>, "confidence": <0..1>}`,
		a.Content, ctxA, b.Content, ctxB)
}

func summarizePrompt(members []NodeView) string {
	var sb strings.Builder
	sb.WriteString("Write a concise summary that synthesizes the following related memories. Respond with only the summary text.\n\n")
	for i, m := range members {
		ctx, _ := json.Marshal(m.Context)
		fmt.Fprintf(&sb, "%d. %s (context: %s)\n", i+1, m.Content, ctx)
	}
	return sb.String()
}

// extractJSON pulls the first {...} object from a response, tolerating
// models that wrap JSON in prose or code fences.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
