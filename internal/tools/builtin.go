package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/memory"
)

const (
	maxReadBytes  = 64 * 1024
	maxFetchBytes = 256 * 1024
	maxShellBytes = 32 * 1024
	fetchTimeout  = 10 * time.Second
	shellTimeout  = 30 * time.Second
)

// Builtin returns the full built-in tool set. The capability gate, not
// the registry, decides which of these a profile may touch.
func Builtin() []*Tool {
	return []*Tool{
		readFileTool(),
		listDirectoryTool(),
		searchMemoryTool(),
		writeMemoryTool(),
		httpFetchTool(),
		writeFileTool(),
		patchFileTool(),
		shellTool(),
		postMessageTool(),
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", errors.NewValidation("missing argument: " + key)
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", errors.NewValidation("argument must be a non-empty string: " + key)
	}
	return s, nil
}

func resolvePath(env *Env, raw string) string {
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Join(env.BaseDir, raw)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func readFileTool() *Tool {
	return &Tool{
		Name:        ToolReadFile,
		Description: "Read a text file. Large files are truncated.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path, absolute or relative to the agent home."},
		}, "path"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			f, err := os.Open(resolvePath(env, path))
			if err != nil {
				return "", errors.NewStorage("open file", err)
			}
			defer f.Close()
			data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return "", errors.NewStorage("read file", err)
			}
			if len(data) > maxReadBytes {
				return string(data[:maxReadBytes]) + "\n[truncated]", nil
			}
			return string(data), nil
		},
	}
}

func listDirectoryTool() *Tool {
	return &Tool{
		Name:        ToolListDirectory,
		Description: "List the entries of a directory.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory path."},
		}, "path"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(resolvePath(env, path))
			if err != nil {
				return "", errors.NewStorage("read directory", err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return strings.Join(names, "\n"), nil
		},
	}
}

func searchMemoryTool() *Tool {
	return &Tool{
		Name:        ToolSearchMemory,
		Description: "Search the agent's working memory by keyword.",
		Parameters: objectSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Keyword to search keys and values for."},
		}, "query"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			query, err := stringArg(args, "query")
			if err != nil {
				return "", err
			}
			entries, err := searchMemory(env.Memory, query, 20)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "no matches", nil
			}
			var sb strings.Builder
			for _, e := range entries {
				fmt.Fprintf(&sb, "%s: %s\n", e.Key, e.Value)
			}
			return sb.String(), nil
		},
	}
}

// searchMemory prefers the active design's ranked recall and falls back
// to a scan when the design has none.
func searchMemory(backend memory.Backend, query string, limit int) ([]memoryHit, error) {
	if s, ok := backend.(memory.Searcher); ok {
		entries, err := s.Search(query, limit)
		if err != nil {
			return nil, err
		}
		hits := make([]memoryHit, 0, len(entries))
		for _, e := range entries {
			hits = append(hits, memoryHit{Key: e.Key, Value: e.Value})
		}
		return hits, nil
	}

	entries, err := backend.IterAll()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var hits []memoryHit
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Key), q) || strings.Contains(strings.ToLower(e.Value), q) {
			hits = append(hits, memoryHit{Key: e.Key, Value: e.Value})
			if len(hits) == limit {
				break
			}
		}
	}
	return hits, nil
}

type memoryHit struct {
	Key   string
	Value string
}

func writeMemoryTool() *Tool {
	return &Tool{
		Name:        ToolWriteMemory,
		Description: "Store or update one working-memory entry.",
		Parameters: objectSchema(map[string]any{
			"key":   map[string]any{"type": "string", "description": "Memory key, dotted namespace style."},
			"value": map[string]any{"type": "string", "description": "Value to remember."},
		}, "key", "value"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			key, err := stringArg(args, "key")
			if err != nil {
				return "", err
			}
			value, err := stringArg(args, "value")
			if err != nil {
				return "", err
			}
			if err := env.Memory.Put(key, value); err != nil {
				return "", err
			}
			return "stored " + key, nil
		},
	}
}

func httpFetchTool() *Tool {
	return &Tool{
		Name:        ToolHTTPFetch,
		Description: "Fetch a URL with GET. Responses are truncated.",
		Parameters: objectSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "HTTP or HTTPS URL."},
		}, "url"),
		Run: func(ctx context.Context, _ *Env, args map[string]any) (string, error) {
			url, err := stringArg(args, "url")
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", errors.NewValidation("url must be http or https")
			}
			ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", errors.NewTransport("build request", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return "", errors.NewTransport("fetch url", err)
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
			if err != nil {
				return "", errors.NewTransport("read response", err)
			}
			out := string(body)
			if len(body) > maxFetchBytes {
				out = out[:maxFetchBytes] + "\n[truncated]"
			}
			return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, out), nil
		},
	}
}

func writeFileTool() *Tool {
	return &Tool{
		Name:        ToolWriteFile,
		Description: "Write a text file, replacing any existing content.",
		Parameters: objectSchema(map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path."},
			"content": map[string]any{"type": "string", "description": "Full file content."},
		}, "path", "content"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			content, ok := args["content"].(string)
			if !ok {
				return "", errors.NewValidation("argument must be a string: content")
			}
			full := resolvePath(env, path)
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", errors.NewStorage("create parent directory", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", errors.NewStorage("write file", err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func patchFileTool() *Tool {
	return &Tool{
		Name:        ToolPatchFile,
		Description: "Replace an exact text fragment in a file. The fragment must occur exactly once.",
		Parameters: objectSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "File path."},
			"old":  map[string]any{"type": "string", "description": "Exact text to replace."},
			"new":  map[string]any{"type": "string", "description": "Replacement text."},
		}, "path", "old", "new"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			path, err := stringArg(args, "path")
			if err != nil {
				return "", err
			}
			oldText, err := stringArg(args, "old")
			if err != nil {
				return "", err
			}
			newText, ok := args["new"].(string)
			if !ok {
				return "", errors.NewValidation("argument must be a string: new")
			}
			full := resolvePath(env, path)
			data, err := os.ReadFile(full)
			if err != nil {
				return "", errors.NewStorage("read file", err)
			}
			content := string(data)
			switch strings.Count(content, oldText) {
			case 0:
				return "", errors.NewValidation("fragment not found in file")
			case 1:
			default:
				return "", errors.NewValidation("fragment occurs more than once")
			}
			patched := strings.Replace(content, oldText, newText, 1)
			if err := os.WriteFile(full, []byte(patched), 0o644); err != nil {
				return "", errors.NewStorage("write file", err)
			}
			return "patched " + path, nil
		},
	}
}

func shellTool() *Tool {
	return &Tool{
		Name:        ToolShell,
		Description: "Run a shell command and return its combined output.",
		Parameters: objectSchema(map[string]any{
			"command": map[string]any{"type": "string", "description": "Command line passed to sh -c."},
		}, "command"),
		Run: func(ctx context.Context, env *Env, args map[string]any) (string, error) {
			command, err := stringArg(args, "command")
			if err != nil {
				return "", err
			}
			ctx, cancel := context.WithTimeout(ctx, shellTimeout)
			defer cancel()
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = env.BaseDir
			out, err := cmd.CombinedOutput()
			if len(out) > maxShellBytes {
				out = append(out[:maxShellBytes], []byte("\n[truncated]")...)
			}
			if err != nil {
				return "", errors.NewStorage("run command", fmt.Errorf("%w: %s", err, out))
			}
			return string(out), nil
		},
	}
}

func postMessageTool() *Tool {
	return &Tool{
		Name:        ToolPostMessage,
		Description: "Post a message outward to the operator surface. Rate limited per hour.",
		Parameters: objectSchema(map[string]any{
			"content": map[string]any{"type": "string", "description": "Message text."},
		}, "content"),
		Run: func(_ context.Context, env *Env, args map[string]any) (string, error) {
			content, err := stringArg(args, "content")
			if err != nil {
				return "", err
			}
			if !env.allowPost(time.Now()) {
				return "", errors.NewValidation(fmt.Sprintf(
					"post budget exhausted: at most %d posts per hour", env.MaxPostsPerHour))
			}
			if env.Broadcast != nil {
				env.Broadcast(agent.NewEvent(agent.EventStateChanged, map[string]any{
					"kind":    "outward_post",
					"content": content,
				}))
			}
			return "posted", nil
		},
	}
}

// allowPost enforces the hourly post budget with a sliding window.
func (env *Env) allowPost(now time.Time) bool {
	if env.MaxPostsPerHour <= 0 {
		return false
	}
	env.postMu.Lock()
	defer env.postMu.Unlock()

	cutoff := now.Add(-time.Hour)
	kept := env.postTimes[:0]
	for _, t := range env.postTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	env.postTimes = kept
	if len(env.postTimes) >= env.MaxPostsPerHour {
		return false
	}
	env.postTimes = append(env.postTimes, now)
	return true
}
