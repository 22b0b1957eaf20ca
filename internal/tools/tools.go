// Package tools implements the agent's tool surface: a registry of
// callable tools, the capability gate every invocation passes through,
// and the agentic tool-calling loop used by the engaged path.
package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/store"
)

// Tool names. The capability gate and prompts refer to these.
const (
	ToolReadFile      = "read_file"
	ToolListDirectory = "list_directory"
	ToolSearchMemory  = "search_memory"
	ToolWriteMemory   = "write_memory"
	ToolHTTPFetch     = "http_fetch"
	ToolWriteFile     = "write_file"
	ToolPatchFile     = "patch_file"
	ToolShell         = "shell"
	ToolPostMessage   = "post_message"
)

// Env carries the dependencies tools run against.
type Env struct {
	Store     *store.Store
	Memory    memory.Backend
	Broadcast func(agent.Event)
	// BaseDir anchors relative paths for the file tools.
	BaseDir         string
	Username        string
	MaxPostsPerHour int

	// Approver reports whether the operator has approved a tool this
	// session. Nil means nothing is approved.
	Approver func(tool string) bool

	postMu    sync.Mutex
	postTimes []time.Time
}

// Tool is one callable capability.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, env *Env, args map[string]any) (string, error)
}

// Registry holds the registered tools.
type Registry struct {
	tools map[string]*Tool
	log   *zap.Logger
}

// NewRegistry builds a registry from the given tools.
func NewRegistry(log *zap.Logger, tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools)), log: log}
	for _, t := range tools {
		r.tools[t.Name] = t
	}
	return r
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions renders the registry as chat-completion tool parameters,
// filtered to what the profile may call.
func (r *Registry) Definitions(p Profile) []openai.ChatCompletionToolUnionParam {
	var defs []openai.ChatCompletionToolUnionParam
	for _, name := range r.Names() {
		if CheckCapability(p, name) != nil {
			continue
		}
		t := r.tools[name]
		defs = append(defs, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  openai.FunctionParameters(t.Parameters),
				},
			},
		})
	}
	return defs
}

// Execute gates and runs one tool call. Denial happens before the tool
// sees the arguments, so a denied call has no side effects.
func (r *Registry) Execute(ctx context.Context, p Profile, env *Env, name string, args map[string]any) (string, error) {
	if err := CheckCapability(p, name); err != nil {
		r.log.Info("tool denied",
			zap.String("profile", string(p)),
			zap.String("tool", name),
		)
		return "", err
	}
	t, ok := r.tools[name]
	if !ok {
		return "", errors.NewNotFound("tool", name)
	}
	r.log.Debug("tool invoked",
		zap.String("profile", string(p)),
		zap.String("tool", name),
	)
	return t.Run(ctx, env, args)
}
