package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storyline/internal/actor"
	"storyline/internal/app"
	"storyline/internal/config"
	"storyline/internal/console"
	"storyline/internal/db"
	"storyline/internal/domain"
	"storyline/internal/engine"
	"storyline/internal/metrics"
	"storyline/internal/migrate"
	"storyline/internal/server"
	"storyline/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Storyline CLI",
	Long: `Storyline turns a conversation about a product idea into a reviewed backlog.
Core concepts:
- Workspace: the .storyline directory holding the database; storyline.yml next to it tunes the workflow.
- Session: one run from the first message to the approved backlog.
- Phases: analysis -> brief -> solution -> backlog, always in that order.
- Analysis: chat until problem/goals, users/stakeholders and features/scope are covered.
- Approval: every generated document is shown to you; approve it, ask for a revision with feedback, or reject it.
- Revision budget: after the configured number of revisions the last draft is approved and flagged as forced.
- Event log: everything that happened, view with 'sl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STORYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("session", "", "session id (defaults to the current session)")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor recorded on events")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(requirementsCmd())
	rootCmd.AddCommand(documentCmd("brief", "Show the product brief", func(s *session.Session) string { return s.Documents.BriefText() }))
	rootCmd.AddCommand(documentCmd("solution", "Show the business flows", func(s *session.Session) string { return s.Documents.SolutionText() }))
	rootCmd.AddCommand(documentCmd("backlog", "Show epics and stories", func(s *session.Session) string { return s.Documents.BacklogText() }))
	rootCmd.AddCommand(advanceCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(transitionsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage sessions"}
	cmd.AddCommand(sessionNewCmd())
	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionUseCmd())
	cmd.AddCommand(sessionDeleteCmd())
	return cmd
}

func sessionNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a session and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				s, err := env.Engine.CreateSession(ctx)
				if err != nil {
					return err
				}
				if err := app.SetCurrent(env.Workspace, s.ID); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s.Record())
				}
				fmt.Printf("Started session %s\n", s.ID)
				return nil
			})
		},
	}
}

func sessionListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				items, err := env.Engine.Repo.ListSessions(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				current, _ := app.Current(env.Workspace)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"", "ID", "Phase", "Started", "Updated"})
				for _, s := range items {
					marker := ""
					if s.ID == current {
						marker = "*"
					}
					tw.AppendRow(table.Row{marker, s.ID, s.CurrentPhase.Title(), s.StartedAt, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the full session record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				return printJSON(s.Record())
			})
		},
	}
}

func sessionUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Make a session current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				s, err := env.Engine.Load(ctx, args[0])
				if err != nil {
					return fmt.Errorf("session %s: %w", args[0], err)
				}
				if err := app.SetCurrent(env.Workspace, s.ID); err != nil {
					return err
				}
				fmt.Printf("Current session: %s (%s)\n", s.ID, s.Phase().Title())
				return nil
			})
		},
	}
}

func sessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				if err := env.Engine.Repo.DeleteSession(ctx, args[0]); err != nil {
					return fmt.Errorf("session %s: %w", args[0], err)
				}
				fmt.Printf("Deleted session %s\n", args[0])
				return nil
			})
		},
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk through the product idea",
		Long: `Chat collects requirements for the current session. Besides free text it understands:
  status    conversation summary and collected requirements
  progress  progress across every stage
  done      move on and review each generated document
  quit      leave the chat; the session is kept`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				return runChat(ctx, env, s.ID, console.New(os.Stdin, os.Stdout))
			})
		},
	}
}

func runChat(ctx context.Context, env cliEnv, id string, p *console.Prompter) error {
	e := env.Engine
	s, err := e.Load(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Session %s, phase %s. Type status, progress, done or quit.\n", s.ID, s.Phase().Title())
	for {
		line, err := p.Line("\nyou> ")
		if errors.Is(err, console.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "status":
			s, err := e.Load(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(e.Status(s))
		case "progress":
			s, err := e.Load(ctx, id)
			if err != nil {
				return err
			}
			fmt.Println(e.Progress(s).Text())
		case "done":
			finished, err := finishFromChat(ctx, env, id, p)
			if err != nil {
				return err
			}
			if finished {
				return nil
			}
		default:
			res, err := e.Converse(ctx, id, line)
			if errors.Is(err, engine.ErrNotInAnalysis) {
				fmt.Println("Analysis is closed for this session. Type done to continue with the next stage.")
				continue
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				continue
			}
			fmt.Printf("\nstoryline> %s\n", res.Reply)
			if res.Question != nil {
				idx, err := p.Choose(*res.Question)
				if err != nil {
					return err
				}
				if idx >= 0 {
					if _, err := e.AnswerQuestion(ctx, id, idx); err != nil {
						return err
					}
				}
			}
			if res.Complete {
				fmt.Println("\nAnalysis looks complete. Type done to create the Product Brief.")
			}
		}
	}
}

// finishFromChat runs the remaining stages. An incomplete analysis needs
// confirmation first. It reports whether the backlog was approved.
func finishFromChat(ctx context.Context, env cliEnv, id string, p *console.Prompter) (bool, error) {
	results, err := env.Engine.Finish(ctx, id, p, false)
	if errors.Is(err, engine.ErrAnalysisIncomplete) {
		answer, lerr := p.Line(fmt.Sprintf("%v\nContinue anyway? [y/N] ", err))
		if lerr != nil {
			return false, lerr
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			return false, nil
		}
		results, err = env.Engine.Finish(ctx, id, p, true)
	}
	printStageResults(results)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return false, nil
	}
	last := results[len(results)-1]
	return last.Phase == domain.PhaseBacklog && last.Status == domain.ApprovalApproved, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Conversation summary and collected requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				if viper.GetBool("json") {
					return printJSON(env.Engine.Progress(s))
				}
				fmt.Println(env.Engine.Status(s))
				return nil
			})
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Progress across every stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				p := env.Engine.Progress(s)
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Println(p.Text())
				return nil
			})
		},
	}
}

func requirementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requirements",
		Short: "List collected requirements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				items, _ := s.Requirements.Snapshot()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "#", "Requirement"})
				for _, c := range domain.Categories() {
					for i, text := range items[c] {
						tw.AppendRow(table.Row{c.Title(), i + 1, text})
					}
				}
				complete, reason := env.Engine.AnalysisStatus(s)
				tw.AppendFooter(table.Row{"Total", s.Requirements.Total(), fmt.Sprintf("complete=%t %s", complete, reason)})
				tw.Render()
				return nil
			})
		},
	}
}

func documentCmd(use, short string, render func(*session.Session) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				if viper.GetBool("json") {
					sol, doc := s.Documents.Snapshot()
					return printJSON(map[string]any{"solution": sol, "documentation": doc})
				}
				fmt.Println(render(s))
				return nil
			})
		},
	}
}

func advanceCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Run the next stage and review its output",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				res, err := env.Engine.Advance(ctx, s.ID, console.New(os.Stdin, os.Stdout), force)
				if err != nil {
					return err
				}
				return reportStages([]engine.StageResult{res})
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "leave analysis or solution before the completeness check passes")
	return cmd
}

func finishCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Run and review stages until the backlog is approved",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				results, err := env.Engine.Finish(ctx, s.ID, console.New(os.Stdin, os.Stdout), force)
				if rerr := reportStages(results); rerr != nil {
					return rerr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "skip completeness checks")
	return cmd
}

func reportStages(results []engine.StageResult) error {
	if viper.GetBool("json") {
		return printJSON(results)
	}
	printStageResults(results)
	return nil
}

func printStageResults(results []engine.StageResult) {
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Phase.Title(), r.Status)
		if r.Forced {
			line += fmt.Sprintf(" (forced after %d revisions)", r.Attempts)
		} else if r.Attempts > 0 {
			line += fmt.Sprintf(" after %d revisions", r.Attempts)
		}
		if r.NeedsRevision {
			line += ", the reviewer flagged gaps"
		}
		fmt.Println(line)
	}
}

func transitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions",
		Short: "Phase transition history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, env cliEnv, s *session.Session) error {
				history := s.Machine.History()
				if viper.GetBool("json") {
					return printJSON(history)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "Reason"})
				for _, t := range history {
					tw.AppendRow(table.Row{t.Timestamp, t.From.Title(), t.To.Title(), t.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened in a session: messages, requirements, transitions, approvals and saved documents.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, env cliEnv) error {
				sessionID := ""
				if !all {
					s, err := app.ResolveSession(ctx, env.Engine, env.Workspace, viper.GetString("session"))
					if err != nil {
						return err
					}
					sessionID = s.ID
				}
				evts, err := env.Engine.Repo.LatestEvents(ctx, n, 0, sessionID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range evts {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += ":" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.ActorID, truncate(evt.Payload, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&all, "all", false, "events of every session")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workflow config",
		Long:  "storyline.yml sets the completeness thresholds, the revision budget, the actor binding, the server and webhooks. Missing keys keep their defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate storyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default storyline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devTokens bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := metrics.New()
			return withEngineMetrics(cmd.Context(), m, func(ctx context.Context, env cliEnv) error {
				if addr == "" {
					addr = env.Config.Server.Addr
				}
				if basePath == "" {
					basePath = env.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret: env.Config.Server.JWTSecret(),
					DevTokens: devTokens,
					Logger:    env.Logger.Named("auth"),
				}
				if authCfg.JWTSecret == "" {
					env.Logger.Warn("no jwt secret configured, the API is open to anyone who can reach it", zap.String("addr", addr))
				}
				handler, err := server.New(server.Config{
					Engine:   env.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Metrics:  m,
					Logger:   env.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				if v, err := migrate.Version(env.Engine.DB); err == nil {
					env.Logger.Info("schema ready", zap.Int("version", v))
				}
				if len(env.Config.Webhooks) > 0 {
					d := &server.WebhookDispatcher{
						Repo:     env.Engine.Repo,
						Webhooks: env.Config.Webhooks,
						Logger:   env.Logger.Named("webhooks"),
					}
					go d.Run(ctx)
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Storyline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devTokens, "dev-tokens", false, "expose POST <base>/auth/token for local testing")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token with the configured JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret()
			if secret == "" {
				return fmt.Errorf("server.jwt_secret_env is unset or names an empty variable")
			}
			token, err := server.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject, recorded as the event actor")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

type cliEnv struct {
	Engine    engine.Engine
	Config    *config.Config
	Logger    *zap.Logger
	Workspace string
}

func withEngine(ctx context.Context, fn func(context.Context, cliEnv) error) error {
	return withEngineMetrics(ctx, nil, fn)
}

func withEngineMetrics(ctx context.Context, m *metrics.Metrics, fn func(context.Context, cliEnv) error) error {
	workspace := viper.GetString("workspace")
	logger, err := newLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	actorCfg := cfg.Actor
	if actorCfg.Script != "" && !filepath.IsAbs(actorCfg.Script) {
		actorCfg.Script = filepath.Join(workspace, actorCfg.Script)
	}
	a, err := actor.New(actorCfg, logger.Named("actor"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg, a, logger, m)
	if id := viper.GetString("actor-id"); id != "" {
		e.ActorID = id
	}
	return fn(ctx, cliEnv{Engine: e, Config: cfg, Logger: logger, Workspace: workspace})
}

func withSession(ctx context.Context, fn func(context.Context, cliEnv, *session.Session) error) error {
	return withEngine(ctx, func(ctx context.Context, env cliEnv) error {
		s, err := app.ResolveSession(ctx, env.Engine, env.Workspace, viper.GetString("session"))
		if err != nil {
			return err
		}
		return fn(ctx, env, s)
	})
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
