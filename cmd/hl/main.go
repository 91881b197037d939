package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hourline/internal/app"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/repo"
	"hourline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Hourline CLI",
	Long: `Hourline records daily hours per contributor and moves them through review.
Core concepts:
- Workspace: a directory holding hourline.yml and the SQLite database.
- Entry: one contributor's hours for one day; statuses go draft -> submitted -> approved, or back to rejected.
- Reports: day, week, month and arbitrary period totals with cost from the rate in effect on each day.
- Selection: a reviewer's working set of contributors or entries, approved or rejected in one step.
- Event log: every change, view with 'hl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HOURLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/hourline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log use cases to stderr")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(contributorCmd())
	rootCmd.AddCommand(entryCmd())
	rootCmd.AddCommand(transitionCmd("submit", "Submit a draft entry for review"))
	rootCmd.AddCommand(transitionCmd("approve", "Approve a submitted entry"))
	rootCmd.AddCommand(transitionCmd("reject", "Return a submitted entry with a reason"))
	rootCmd.AddCommand(transitionCmd("reopen", "Move a rejected entry back to draft"))
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(varianceCmd())
	rootCmd.AddCommand(selectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var id string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create hourline.yml and the database in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.Init(cmd.Context(), viper.GetString("workspace"), id, force)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized workspace (config %s, database %s)\n", path, db.Path(viper.GetString("workspace")))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "workspace id (default directory name)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func contributorCmd() *cobra.Command {
	c := &cobra.Command{Use: "contributor", Short: "Manage contributors"}
	c.AddCommand(contributorAddCmd())
	c.AddCommand(contributorListCmd())
	c.AddCommand(contributorShowCmd())
	c.AddCommand(contributorRateCmd())
	return c
}

func contributorAddCmd() *cobra.Command {
	var id, name, role, rate string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a contributor",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseDecimal("rate", rate)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AddContributor(ctx, actorID(), domain.Contributor{ID: id, Name: name, Role: role, HourlyRate: r})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "contributor id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "job role")
	cmd.Flags().StringVar(&rate, "rate", "0", "hourly rate")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func contributorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List contributors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items := e.Contributors()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Rate", "Changes"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Role, c.HourlyRate.String(), len(c.Rates)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func contributorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contributor and its rate history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Contributor(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func contributorRateCmd() *cobra.Command {
	var from, rate string
	cmd := &cobra.Command{
		Use:   "rate <id>",
		Short: "Record a rate change effective from a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := domain.ParseDate(from)
			if err != nil {
				return err
			}
			r, err := parseDecimal("rate", rate)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SetRate(ctx, actorID(), args[0], d, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "effective date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&rate, "rate", "", "hourly rate")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("rate")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every change to contributors, entries, roles and keys, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, actor string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, repo.EventFilter{Limit: n, Type: evtType, EntityKind: entityKind, EntityID: entityID, ActorID: actor})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Role assignments"}
	cmd.AddCommand(roleWhoamiCmd())
	cmd.AddCommand(roleListCmd())
	cmd.AddCommand(roleChangeCmd("grant", "Grant a role to an actor"))
	cmd.AddCommand(roleChangeCmd("revoke", "Revoke a role from an actor"))
	return cmd
}

func roleWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current actor's roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				caps, err := e.Capabilities(ctx, actorID(), nil, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"actor_id":    actorID(),
					"roles":       caps.Roles,
					"permissions": caps.Permissions,
					"show_rates":  caps.ShowRates,
				})
			})
		},
	}
}

func roleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RoleAssignments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Actor", "Role"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ActorID, a.RoleID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func roleChangeCmd(op, short string) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   op,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if op == "grant" {
					return e.GrantRole(ctx, actorID(), target, role)
				}
				return e.RevokeRole(ctx, actorID(), target, role)
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var owner, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if owner == "" {
					owner = actorID()
				}
				key, secret, err := e.CreateAPIKey(ctx, actorID(), owner, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "actor the key authenticates as (default --actor-id)")
	create.Flags().StringVar(&name, "name", "", "label")
	cmd.AddCommand(create)

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.APIKeys(ctx, owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "only keys of this actor")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RevokeAPIKey(ctx, actorID(), args[0])
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var roles, perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for --actor-id with HOURLINE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("HOURLINE_JWT_SECRET is required")
			}
			tok, err := server.SignToken(secret, actorID(), roles, perms, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "permission claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, actorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(slog.LevelInfo)
			ws, err := app.Open(ctx, app.Options{
				Workspace:  viper.GetString("workspace"),
				ConfigPath: viper.GetString("config"),
				Observer:   engine.NewSlogUseCaseObserver(logger),
			})
			if err != nil {
				return err
			}
			defer ws.Close()
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowActorHeader: actorHeader, Logger: logger}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("HOURLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:         ws.Engine,
				BasePath:       basePath,
				Auth:           authCfg,
				EnableDevLogin: devLogin,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			if d := server.NewWebhookDispatcher(ws.Engine, server.WithWebhookLogger(logger)); d != nil {
				go d.Run(ctx)
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving hourline api", "addr", addr, "base_path", basePath, "workspace", ws.Config.Workspace.ID)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().BoolVar(&actorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials")
	return cmd
}

// --- helpers ---

func actorID() string { return viper.GetString("actor-id") }

func newLogger(level slog.Level) *slog.Logger {
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	opts := app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	}
	if viper.GetBool("verbose") {
		opts.Observer = engine.NewSlogUseCaseObserver(newLogger(slog.LevelInfo))
	}
	ws, err := app.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws.Engine)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
