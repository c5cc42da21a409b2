package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
	llmx "github.com/neohoods/portal-assistant/agent/llm"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	logx "github.com/neohoods/portal-assistant/pkg/logger"
	metricsx "github.com/neohoods/portal-assistant/pkg/metrics"
)

const (
	DefaultMaxDepth     = 3
	defaultHistoryLimit = 20
)

const structuredInstruction = "Respond with a single valid JSON object and nothing else: no prose, no code fence."

// Request is one user turn handed to the loop.
type Request struct {
	Message      string
	History      []contractx.HistoryMessage
	SystemPrompt string
	Tools        []*schema.ToolInfo
	Auth         contractx.AuthContext
	Purpose      contractx.Purpose
	Locale       string

	// Structured asks for a JSON object answer. The format is enforced by
	// prompt instruction only.
	Structured bool

	// TerminalTool names a tool whose arguments are the final answer. It is
	// never executed.
	TerminalTool string

	// EarlyExitTools end the loop as soon as one of their outcomes reports a
	// typed success.
	EarlyExitTools []string

	// Gateway replaces the loop gateway for this run.
	Gateway contractx.ToolGateway
}

// Response is the final result of one loop run.
type Response struct {
	// Text is the final content. In structured mode it holds the extracted
	// JSON object when extraction succeeded, else the raw content.
	Text string
	// JSON is set when Text holds a valid JSON object.
	JSON bool

	Outcomes      []contractx.ToolOutcome
	ProviderCalls int
	Depth         int

	Bounded   bool
	Terminal  bool
	EarlyExit *contractx.ToolOutcome
}

type Loop struct {
	model        einomodel.ToolCallingChatModel
	gateway      contractx.ToolGateway
	maxDepth     int
	historyLimit int
	sampling     func(contractx.Purpose) llmx.Sampling
	metrics      *metricsx.Metrics
}

type Option func(*Loop)

func WithMaxDepth(depth int) Option {
	return func(l *Loop) {
		if depth > 0 {
			l.maxDepth = depth
		}
	}
}

func WithHistoryLimit(limit int) Option {
	return func(l *Loop) {
		if limit >= 0 {
			l.historyLimit = limit
		}
	}
}

func WithSampling(fn func(contractx.Purpose) llmx.Sampling) Option {
	return func(l *Loop) {
		if fn != nil {
			l.sampling = fn
		}
	}
}

func WithMetrics(m *metricsx.Metrics) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

func New(model einomodel.ToolCallingChatModel, gateway contractx.ToolGateway, opts ...Option) (*Loop, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	if gateway == nil {
		return nil, errors.New("tool gateway is required")
	}
	l := &Loop{
		model:        model,
		gateway:      gateway,
		maxDepth:     DefaultMaxDepth,
		historyLimit: defaultHistoryLimit,
		sampling:     llmx.DefaultSampling,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

func (l *Loop) MaxDepth() int {
	return l.maxDepth
}

// Run drives model turns until the model answers without tool calls, calls
// the terminal tool, an early-exit tool succeeds, or the depth bound is
// reached. At most MaxDepth()+1 provider calls are made.
func (l *Loop) Run(ctx context.Context, req Request) (Response, error) {
	chatModel := l.model
	if len(req.Tools) > 0 {
		bound, err := l.model.WithTools(req.Tools)
		if err != nil {
			return Response{}, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
		}
		chatModel = bound
	}

	gateway := l.gateway
	if req.Gateway != nil {
		gateway = req.Gateway
	}

	messages := l.buildMessages(req)
	logger := logx.Conversation(req.Auth.ConversationID).With().
		Str("purpose", string(req.Purpose)).
		Logger()

	var resp Response
	for depth := 0; ; depth++ {
		resp.Depth = depth
		msg, err := l.generate(ctx, chatModel, messages, req.Purpose)
		resp.ProviderCalls++
		if err != nil {
			l.metrics.LoopDepth(depth)
			return resp, fmt.Errorf("%w: depth=%d: %v", contractx.ErrModelInvoke, depth, err)
		}
		if msg == nil {
			l.metrics.LoopDepth(depth)
			return resp, fmt.Errorf("%w: depth=%d: empty model message", contractx.ErrModelInvoke, depth)
		}

		if len(msg.ToolCalls) == 0 {
			resp.Text, resp.JSON = finalText(msg.Content, req.Structured)
			l.metrics.LoopDepth(depth)
			return resp, nil
		}

		if call, ok := findTool(msg.ToolCalls, req.TerminalTool); ok {
			resp.Text, resp.JSON = finalText(call.Function.Arguments, true)
			resp.Terminal = true
			l.metrics.LoopDepth(depth)
			return resp, nil
		}

		if depth >= l.maxDepth {
			logger.Warn().Int("depth", depth).Int("pending_calls", len(msg.ToolCalls)).Msg("tool call chain limit reached")
			resp.Text, resp.JSON = boundedText(req)
			resp.Bounded = true
			l.metrics.LoopDepth(depth)
			return resp, nil
		}

		calls := msg.ToolCalls
		outcomes, err := gateway.Execute(ctx, req.Auth, toToolRequests(calls))
		if err != nil {
			l.metrics.LoopDepth(depth)
			return resp, fmt.Errorf("execute tools at depth=%d: %w", depth, err)
		}
		if len(outcomes) != len(calls) {
			l.metrics.LoopDepth(depth)
			return resp, contractx.NewCodedError(
				contractx.CodeOutcomeMismatch,
				fmt.Errorf("%w: requested=%d outcomes=%d", contractx.ErrToolOutcomeMismatch, len(calls), len(outcomes)),
				map[string]string{
					"conversation_id": req.Auth.ConversationID,
					"requested":       strconv.Itoa(len(calls)),
					"outcomes":        strconv.Itoa(len(outcomes)),
				},
			)
		}
		resp.Outcomes = append(resp.Outcomes, outcomes...)

		if exit, ok := earlyExit(outcomes, req.EarlyExitTools); ok {
			logger.Debug().Str("tool", exit.Tool).Int("depth", depth).Msg("early exit after successful action")
			resp.EarlyExit = &exit
			resp.Text, resp.JSON = earlyExitText(exit, req.Structured)
			l.metrics.LoopDepth(depth)
			return resp, nil
		}

		messages = append(messages, schema.AssistantMessage(msg.Content, calls))
		for i, o := range outcomes {
			messages = append(messages, schema.ToolMessage(toolMessageContent(o), calls[i].ID))
		}
	}
}

func (l *Loop) buildMessages(req Request) []*schema.Message {
	system := strings.TrimSpace(req.SystemPrompt)
	if req.Structured {
		system = strings.TrimSpace(system + "\n\n" + structuredInstruction)
	}

	history := req.History
	if l.historyLimit >= 0 && len(history) > l.historyLimit {
		history = history[len(history)-l.historyLimit:]
	}

	messages := make([]*schema.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	for _, h := range history {
		content := strings.TrimSpace(h.Content)
		if content == "" {
			continue
		}
		switch h.Role {
		case contractx.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(content, nil))
		default:
			messages = append(messages, schema.UserMessage(content))
		}
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		messages = append(messages, schema.UserMessage(msg))
	}
	return messages
}

func (l *Loop) generate(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	messages []*schema.Message,
	purpose contractx.Purpose,
) (*schema.Message, error) {
	sampling := l.sampling(purpose)
	started := time.Now()
	defer l.metrics.ProviderCall(string(purpose), started)

	return chatModel.Generate(ctx, messages,
		einomodel.WithTemperature(sampling.Temperature),
		einomodel.WithMaxTokens(sampling.MaxTokens),
	)
}

func toToolRequests(calls []schema.ToolCall) []contractx.ToolRequest {
	reqs := make([]contractx.ToolRequest, 0, len(calls))
	for _, call := range calls {
		req := contractx.ToolRequest{
			CallID: call.ID,
			Tool:   strings.TrimSpace(call.Function.Name),
			Args:   map[string]any{},
		}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Args); err != nil {
				req.Args = nil
				req.ArgsError = fmt.Sprintf("arguments are not a JSON object: %v", err)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func findTool(calls []schema.ToolCall, name string) (schema.ToolCall, bool) {
	if name == "" {
		return schema.ToolCall{}, false
	}
	for _, call := range calls {
		if strings.TrimSpace(call.Function.Name) == name {
			return call, true
		}
	}
	return schema.ToolCall{}, false
}

func earlyExit(outcomes []contractx.ToolOutcome, tools []string) (contractx.ToolOutcome, bool) {
	for _, o := range outcomes {
		for _, name := range tools {
			if o.Tool == name && o.Result.Succeeded() {
				return o, true
			}
		}
	}
	return contractx.ToolOutcome{}, false
}

func toolMessageContent(o contractx.ToolOutcome) string {
	text := o.Result.Text()
	if o.Result.IsError {
		return "ERROR: " + text
	}
	return text
}

func finalText(content string, structured bool) (string, bool) {
	content = strings.TrimSpace(content)
	if !structured {
		return content, false
	}
	if obj, ok := ExtractJSON(content); ok {
		return obj, true
	}
	return content, false
}

func boundedText(req Request) (string, bool) {
	text := promptx.Text(req.Locale, promptx.MsgToolLimit)
	if !req.Structured {
		return text, false
	}
	return statusJSON("PENDING", text), true
}

func earlyExitText(o contractx.ToolOutcome, structured bool) (string, bool) {
	text := o.Result.Text()
	if !structured {
		return text, false
	}
	return statusJSON("COMPLETED", text), true
}

func statusJSON(status, response string) string {
	raw, err := json.Marshal(map[string]string{
		"status":   status,
		"response": response,
	})
	if err != nil {
		return fmt.Sprintf(`{"status":%q}`, status)
	}
	return string(raw)
}
