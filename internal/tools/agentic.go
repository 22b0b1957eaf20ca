package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/ssestream"
	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
)

// DefaultMaxIterations bounds the tool-calling loop.
const DefaultMaxIterations = 10

// Chatter is the raw chat surface the loop drives. *llm.Client
// satisfies it; tests substitute a scripted fake.
type Chatter interface {
	Chat(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// StreamChatter is the optional streaming surface. When the loop's
// chatter provides it, RunStream delivers content tokens as they
// arrive instead of waiting for the full completion.
type StreamChatter interface {
	ChatStream(ctx context.Context, params openai.ChatCompletionNewParams) *ssestream.Stream[openai.ChatCompletionChunk]
}

// CallRecord is one tool invocation made during a loop run.
type CallRecord struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Result is the outcome of one agentic run.
type Result struct {
	Response   string       `json:"response"`
	CallsMade  []CallRecord `json:"calls_made,omitempty"`
	Iterations int          `json:"iterations"`
	HitLimit   bool         `json:"hit_limit,omitempty"`
}

// Loop runs multi-step tool-calling conversations: call the model,
// execute any requested tools, feed results back, repeat until the
// model answers in plain text or the iteration cap trips.
type Loop struct {
	chat          Chatter
	registry      *Registry
	env           *Env
	log           *zap.Logger
	maxIterations int
	temperature   float64
	maxTokens     int64

	// pendingApprovals dedupes approval requests by tool-call id.
	mu               sync.Mutex
	pendingApprovals map[string]bool
}

// NewLoop builds a loop with the default iteration cap.
func NewLoop(chat Chatter, registry *Registry, env *Env, log *zap.Logger) *Loop {
	return &Loop{
		chat:             chat,
		registry:         registry,
		env:              env,
		log:              log,
		maxIterations:    DefaultMaxIterations,
		temperature:      0.7,
		maxTokens:        4096,
		pendingApprovals: make(map[string]bool),
	}
}

// Run executes the loop under the given profile. History carries prior
// conversation turns; userMessage is the new input.
func (l *Loop) Run(ctx context.Context, p Profile, systemPrompt string, history []openai.ChatCompletionMessageParamUnion, userMessage string) (*Result, error) {
	return l.run(ctx, p, systemPrompt, history, userMessage, nil)
}

// RunStream behaves like Run but calls onToken for every content delta
// when the chatter supports streaming. Tool-call rounds produce no
// tokens; only the assistant's text reaches onToken.
func (l *Loop) RunStream(ctx context.Context, p Profile, systemPrompt string, history []openai.ChatCompletionMessageParamUnion, userMessage string, onToken func(delta string)) (*Result, error) {
	return l.run(ctx, p, systemPrompt, history, userMessage, onToken)
}

func (l *Loop) run(ctx context.Context, p Profile, systemPrompt string, history []openai.ChatCompletionMessageParamUnion, userMessage string, onToken func(string)) (*Result, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, openai.UserMessage(userMessage))

	defs := l.registry.Definitions(p)
	result := &Result{}

	for {
		result.Iterations++
		if result.Iterations > l.maxIterations {
			l.log.Warn("agentic loop hit iteration limit", zap.Int("limit", l.maxIterations))
			result.Iterations--
			result.HitLimit = true
			result.Response = fmt.Sprintf("[reached maximum of %d tool-calling iterations]", l.maxIterations)
			return result, nil
		}

		params := openai.ChatCompletionNewParams{
			Messages:    messages,
			Temperature: openai.Float(l.temperature),
			MaxTokens:   openai.Int(l.maxTokens),
		}
		if len(defs) > 0 {
			params.Tools = defs
		}
		var (
			resp *openai.ChatCompletion
			err  error
		)
		if sc, ok := l.chat.(StreamChatter); ok && onToken != nil {
			resp, err = l.completeStreaming(ctx, sc, params, onToken)
		} else {
			resp, err = l.chat.Chat(ctx, params)
		}
		if err != nil {
			return nil, err
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			result.Response = msg.Content
			l.log.Debug("agentic loop completed",
				zap.Int("iterations", result.Iterations),
				zap.Int("calls", len(result.CallsMade)),
			)
			return result, nil
		}

		messages = append(messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			if tc.Type != "function" {
				continue
			}
			name := tc.Function.Name
			args := parseArguments(tc.Function.Arguments)

			if NeedsApproval(p, name) && !l.approved(name) {
				l.requestApproval(tc.ID, name)
				result.CallsMade = append(result.CallsMade, CallRecord{
					Tool:      name,
					Arguments: args,
					Error:     "awaiting operator approval",
				})
				messages = append(messages, openai.ToolMessage(
					"tool error: "+name+" needs operator approval before it can run", tc.ID))
				continue
			}

			l.emitProgress(name, "started")
			output, err := l.registry.Execute(ctx, p, l.env, name, args)
			record := CallRecord{Tool: name, Arguments: args, Output: output}
			content := output
			if err != nil {
				record.Output = ""
				record.Error = err.Error()
				content = "tool error: " + err.Error()
				l.emitProgress(name, "failed")
			} else {
				l.emitProgress(name, "completed")
			}
			result.CallsMade = append(result.CallsMade, record)
			messages = append(messages, openai.ToolMessage(content, tc.ID))
		}
	}
}

// completeStreaming accumulates one streamed completion, surfacing each
// content delta through onToken as it arrives.
func (l *Loop) completeStreaming(ctx context.Context, sc StreamChatter, params openai.ChatCompletionNewParams, onToken func(string)) (*openai.ChatCompletion, error) {
	stream := sc.ChatStream(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			onToken(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, errors.NewTransport("chat completion stream", err)
	}
	if len(acc.Choices) == 0 {
		return nil, errors.NewLLMProtocol("empty completion stream", nil)
	}
	return &acc.ChatCompletion, nil
}

func (l *Loop) approved(tool string) bool {
	return l.env.Approver != nil && l.env.Approver(tool)
}

// requestApproval emits approval_request at most once per tool-call id.
func (l *Loop) requestApproval(callID, tool string) {
	l.mu.Lock()
	already := l.pendingApprovals[callID]
	l.pendingApprovals[callID] = true
	l.mu.Unlock()
	if already || l.env.Broadcast == nil {
		return
	}
	l.env.Broadcast(agent.NewEvent(agent.EventApprovalRequest, map[string]any{
		"call_id": callID,
		"tool":    tool,
	}))
}

func (l *Loop) emitProgress(tool, status string) {
	if l.env.Broadcast == nil {
		return
	}
	l.env.Broadcast(agent.NewEvent(agent.EventToolProgress, map[string]any{
		"tool":   tool,
		"status": status,
	}))
}

func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
