package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ponderer/ponderer/internal/agent"
	"github.com/ponderer/ponderer/internal/concerns"
	"github.com/ponderer/ponderer/internal/config"
	"github.com/ponderer/ponderer/internal/errors"
	"github.com/ponderer/ponderer/internal/events"
	"github.com/ponderer/ponderer/internal/journal"
	"github.com/ponderer/ponderer/internal/llm"
	"github.com/ponderer/ponderer/internal/logging"
	"github.com/ponderer/ponderer/internal/mcp"
	"github.com/ponderer/ponderer/internal/memory"
	"github.com/ponderer/ponderer/internal/orient"
	"github.com/ponderer/ponderer/internal/presence"
	"github.com/ponderer/ponderer/internal/scheduler"
	"github.com/ponderer/ponderer/internal/server"
	"github.com/ponderer/ponderer/internal/store"
	"github.com/ponderer/ponderer/internal/tools"
	"github.com/ponderer/ponderer/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(baseDir string) *cli.App {
	app := &cli.App{
		Name:    "ponderer",
		Usage:   "Persistent local agent companion",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(baseDir),
			mcpCmd(baseDir),
			statusCmd(baseDir),
			journalCmd(baseDir),
			concernsCmd(baseDir),
			memoryCmd(baseDir),
		},
	}
	// Bare invocation: launchers run the backend directly unless an
	// external backend URL or PONDERER_AUTOSTART_BACKEND=0 says otherwise.
	app.Action = func(c *cli.Context) error {
		if config.AutostartBackend() {
			return serveAction(c, baseDir)
		}
		return cli.ShowAppHelp(c)
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the living loop and the backend API",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Enable debug logging"},
		},
		Action: func(c *cli.Context) error {
			return serveAction(c, baseDir)
		},
	}
}

func serveAction(c *cli.Context, baseDir string) error {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return outputError(err)
	}
	cfg, err := config.Load(baseDir)
	if err != nil {
		return outputError(err)
	}
	log, err := logging.New(true, c.Bool("verbose"))
	if err != nil {
		return outputError(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServe(ctx, baseDir, cfg, log); err != nil {
		return outputError(err)
	}
	return nil
}

// runServe wires the full backend and blocks until ctx is cancelled.
func runServe(ctx context.Context, baseDir string, cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.AuthMode == config.AuthRequired && cfg.AuthToken == "" {
		token, err := loadOrCreateToken(baseDir)
		if err != nil {
			return err
		}
		cfg.AuthToken = token
		log.Info("auth token loaded", zap.String("path", filepath.Join(baseDir, "auth_token")))
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	backend, design, err := memory.OpenActive(st)
	if err != nil {
		return err
	}

	client := llm.NewClient(cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel)
	broadcaster := events.NewBroadcaster(events.DefaultBacklog, log)
	defer broadcaster.Close()

	env := &tools.Env{
		Store:           st,
		Memory:          backend,
		Broadcast:       broadcaster.Publish,
		BaseDir:         baseDir,
		Username:        cfg.Username,
		MaxPostsPerHour: cfg.MaxPostsPerHour,
	}
	registry := tools.NewRegistry(log, tools.Builtin()...)

	sched, err := scheduler.New(scheduler.Deps{
		Config:      cfg,
		Store:       st,
		Log:         log,
		Sampler:     presence.NewSampler(),
		Orient:      orient.NewEngine(client, log, cfg.InterruptOverridesDeepWork),
		Journal:     journal.NewEngine(st, client, log, time.Duration(cfg.JournalMinIntervalSecs)*time.Second, cfg.MaxJournalContentChars),
		Concerns:    concerns.NewManager(st, log),
		Completer:   client,
		Loop:        tools.NewLoop(client, registry, env, log),
		ToolEnv:     env,
		Broadcaster: broadcaster,
		Memory:      backend,
	})
	if err != nil {
		return err
	}

	srv := server.New(cfg, st, sched, broadcaster, log, baseDir)
	env.Approver = srv.Approved
	mux := http.NewServeMux()
	mux.Handle("/v1/", srv.Handler())
	mux.Handle("/ui/", web.NewHandler(st, Version, log))
	httpSrv := &http.Server{
		Addr:              cfg.Bind,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("ponderer starting",
		zap.String("version", Version),
		zap.String("bind", cfg.Bind),
		zap.String("llm_model", cfg.LLMModel),
		zap.String("memory_design", design.DesignID),
	)

	errCh := make(chan error, 2)
	go func() { errCh <- sched.Run(ctx) }()
	go func() { errCh <- srv.Run(ctx, httpSrv) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		err := <-errCh
		cancel()
		if err != nil && !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, http.ErrServerClosed) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// mcpCmd creates the mcp command.
func mcpCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve agent state over MCP on stdio",
		Action: func(_ *cli.Context) error {
			st, _, err := openStore(baseDir)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			backend, _, err := memory.OpenActive(st)
			if err != nil {
				return outputError(err)
			}
			if err := mcp.Run(st, backend, Version); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// statusCmd creates the status command.
func statusCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the latest orientation and store counts",
		Action: func(_ *cli.Context) error {
			st, _, err := openStore(baseDir)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			snap, err := st.LatestOrientationSnapshot()
			if err != nil {
				return outputError(err)
			}
			concernList, err := st.ListConcerns()
			if err != nil {
				return outputError(err)
			}
			journalCount, err := st.CountJournalEntries()
			if err != nil {
				return outputError(err)
			}
			snapCount, err := st.CountOrientationSnapshots()
			if err != nil {
				return outputError(err)
			}
			card, err := st.GetCharacterCard()
			if err != nil {
				return outputError(err)
			}

			out := map[string]any{
				"journal_entries":       journalCount,
				"concerns":              len(concernList),
				"orientation_snapshots": snapCount,
			}
			if snap != nil {
				out["orientation"] = map[string]any{
					"disposition":  snap.Orientation.Disposition.AsDBStr(),
					"user_state":   snap.Orientation.UserState.Kind.AsDBStr(),
					"synthesis":    snap.Orientation.RawSynthesis,
					"generated_at": snap.Orientation.GeneratedAt,
				}
			}
			if card != nil {
				out["character_name"] = card.Name
			}
			return outputJSON(out)
		},
	}
}

// journalCmd creates the journal command.
func journalCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "journal",
		Usage: "List recent journal entries, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 10, Usage: "Maximum entries to return"},
		},
		Action: func(c *cli.Context) error {
			st, _, err := openStore(baseDir)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			entries, err := st.RecentJournalEntries(c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			if entries == nil {
				entries = []agent.JournalEntry{}
			}
			return outputJSON(map[string]any{"entries": entries})
		},
	}
}

// concernsCmd creates the concerns command.
func concernsCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "concerns",
		Usage: "List tracked concerns",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "salience", Aliases: []string{"s"}, Usage: "Filter by tier: active|monitoring|background|dormant"},
		},
		Action: func(c *cli.Context) error {
			st, _, err := openStore(baseDir)
			if err != nil {
				return outputError(err)
			}
			defer st.Close()

			var list []agent.Concern
			switch tier := strings.ToLower(strings.TrimSpace(c.String("salience"))); tier {
			case "":
				list, err = st.ListConcerns()
			case "active", "monitoring", "background", "dormant":
				list, err = st.ListConcernsBySalience(agent.SalienceFromDB(tier))
			default:
				return outputError(errors.NewInvalidRequest(
					"salience must be one of active, monitoring, background, dormant"))
			}
			if err != nil {
				return outputError(err)
			}
			if list == nil {
				list = []agent.Concern{}
			}
			return outputJSON(map[string]any{"concerns": list})
		},
	}
}

// memoryCmd creates the memory command group.
func memoryCmd(baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and manage the self-designed memory system",
		Subcommands: []*cli.Command{
			{
				Name:  "rollback",
				Usage: "Restore the rollback target of the most recent promotion",
				Action: func(_ *cli.Context) error {
					st, _, err := openStore(baseDir)
					if err != nil {
						return outputError(err)
					}
					defer st.Close()

					restored, err := memory.Rollback(st)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(map[string]any{
						"design_id":      restored.DesignID,
						"schema_version": restored.SchemaVersion,
					})
				},
			},
		},
	}
}

// Helper functions

// openStore loads config and opens the store at its database path.
func openStore(baseDir string) (*store.Store, *config.Config, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o700); err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

// loadOrCreateToken reads baseDir/auth_token, generating one on first run.
func loadOrCreateToken(baseDir string) (string, error) {
	path := filepath.Join(baseDir, "auth_token")
	data, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	} else if !stderrors.Is(err, os.ErrNotExist) {
		return "", err
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return token, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var aErr *errors.AgentError
	if stderrors.As(err, &aErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", aErr.Code, aErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
