package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	llmx "github.com/neohoods/portal-assistant/agent/llm"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

// OpenAIClassifier calls the chat completions API directly and forces the
// route tool with a named tool choice.
type OpenAIClassifier struct {
	client   *openai.Client
	model    string
	sampling llmx.Sampling
	prompt   string
	metrics  *metricsx.Metrics
}

var _ Classifier = (*OpenAIClassifier)(nil)

func NewOpenAIClassifier(client *openai.Client, cfg llmx.Config, prompt string, m *metricsx.Metrics) (*OpenAIClassifier, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, contractx.ErrPromptMissing
	}
	modelName := cfg.ModelFor(contractx.PurposeClassification)
	if modelName == "" {
		return nil, fmt.Errorf("%w: classification model is required", contractx.ErrValidation)
	}
	return &OpenAIClassifier{
		client:   client,
		model:    modelName,
		sampling: cfg.SamplingFor(contractx.PurposeClassification),
		prompt:   prompt,
		metrics:  m,
	}, nil
}

func (c *OpenAIClassifier) Classify(ctx context.Context, req ClassifyRequest) (Decision, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(routerPrompt(c.prompt, req.CurrentWorkflow)),
	}
	for _, h := range req.History {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		if h.Role == contractx.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(content))
		} else {
			messages = append(messages, openai.UserMessage(content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.model,
		Temperature:         openai.Float(float64(c.sampling.Temperature)),
		MaxCompletionTokens: openai.Int(int64(c.sampling.MaxTokens)),
		Tools: []openai.ChatCompletionToolParam{{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        RouteTool,
				Description: openai.String(routeToolInfo.Desc),
				Parameters: openai.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"workflowType": map[string]any{
							"type":        "string",
							"description": "The workflow that must handle the message",
							"enum":        workflowNames(),
						},
					},
					"required": []string{"workflowType"},
				},
			},
		}},
		ToolChoice: openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: RouteTool},
			},
		},
	}

	started := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	c.metrics.ProviderCall(string(contractx.PurposeClassification), started)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: classify: %v", contractx.ErrModelInvoke, err)
	}
	if len(resp.Choices) == 0 {
		return decide("", ""), nil
	}

	msg := resp.Choices[0].Message
	for _, call := range msg.ToolCalls {
		if call.Function.Name == RouteTool {
			return decide(call.Function.Arguments, msg.Content), nil
		}
	}
	return decide("", msg.Content), nil
}
