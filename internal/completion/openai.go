package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ent0n29/presales/internal/memory"
)

// OpenAIGateway talks to any OpenAI-compatible chat completions endpoint and
// exposes the two dispatcher tools as functions.
type OpenAIGateway struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewOpenAIGateway(cfg Config) *OpenAIGateway {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		// Retries are owned by CompleteWithRetry.
		option.WithMaxRetries(0),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGateway{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (g *OpenAIGateway) Complete(ctx context.Context, req Request) (Reply, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: toMessages(req),
		Tools:    toolDefinitions(),
	}
	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.maxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("openai chat completion: empty choices")
	}

	msg := resp.Choices[0].Message
	reply := Reply{Text: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		call, err := parseToolCall(tc.Function.Name, tc.Function.Arguments)
		if err != nil {
			return Reply{}, err
		}
		if call != nil {
			reply.Call = call
			break
		}
	}
	return reply, nil
}

func toMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if instr := strings.TrimSpace(req.Instructions); instr != "" {
		out = append(out, openai.SystemMessage(instr))
	}
	for _, t := range req.History {
		switch t.Sender {
		case memory.SenderUser:
			out = append(out, openai.UserMessage(t.Text))
		case memory.SenderBot:
			out = append(out, openai.AssistantMessage(t.Text))
		}
	}
	return out
}

func toolDefinitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		{
			Function: openai.FunctionDefinitionParam{
				Name:        EstimateLookup,
				Description: openai.String("Look up the reference budget and timeline for a project type."),
				Parameters: openai.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"project_type": map[string]any{
							"type":        "string",
							"description": "Project type as described by the user, e.g. \"online shop\".",
						},
					},
					"required": []string{"project_type"},
				},
			},
		},
		{
			Function: openai.FunctionDefinitionParam{
				Name:        StoreLead,
				Description: openai.String("Save the lead once the user has confirmed the recap."),
				Parameters: openai.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"name":              map[string]any{"type": "string"},
						"contact":           map[string]any{"type": "string", "description": "Email address or phone number."},
						"project_type":      map[string]any{"type": "string"},
						"project_details":   map[string]any{"type": "string"},
						"follow_up_consent": map[string]any{"type": "boolean"},
					},
				},
			},
		},
	}
}

func parseToolCall(name, arguments string) (*ToolCall, error) {
	switch name {
	case EstimateLookup, StoreLead:
	default:
		return nil, nil
	}
	call := &ToolCall{Name: name, Args: map[string]any{}}
	if strings.TrimSpace(arguments) == "" {
		return call, nil
	}
	if err := json.Unmarshal([]byte(arguments), &call.Args); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", name, err)
	}
	return call, nil
}
