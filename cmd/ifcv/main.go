package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ifcvalidation/internal/app"
	"ifcvalidation/internal/config"
	"ifcvalidation/internal/db"
	"ifcvalidation/internal/domain"
	"ifcvalidation/internal/engine"
	"ifcvalidation/internal/logging"
	"ifcvalidation/internal/migrate"
	"ifcvalidation/internal/obfuscate"
	"ifcvalidation/internal/repo"
	"ifcvalidation/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ifcv",
	Short: "IFC validation service CLI",
	Long: `ifcv keeps the records of an IFC validation service: submitted files, the
checks run against them and what each check found.
Core concepts:
- Request: one uploaded IFC file; PENDING -> INITIATED -> COMPLETED or FAILED, and back to PENDING on requeue.
- Task: one check of a request (syntax, schema, bSDD, normative rules...); skipped and N/A are final.
- Outcome: one finding of a task with a severity and a code whose letter matches it (E00030, W00010...).
- Model: the parsed file with one status per check (v valid, i invalid, w warning, n not validated, - n/a).
- Actor: the user every change is stamped with; pass --actor-id or run as SYSTEM.
- Public ids: entities are shown as a prefix and a scrambled number (r383446691), never raw row ids.
- Event log: every change is recorded, view with 'ifcv log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("IFCV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "acting user (public id or username); defaults to the system actor")
	flags.String("db-driver", "", "database driver (sqlite, postgres)")
	flags.String("db-dsn", "", "database DSN")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("actor-id", flags.Lookup("actor-id"))
	_ = viper.BindPFlag("database.driver", flags.Lookup("db-driver"))
	_ = viper.BindPFlag("database.dsn", flags.Lookup("db-dsn"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(outcomeCmd())
	rootCmd.AddCommand(companyCmd())
	rootCmd.AddCommand(toolCmd())
	rootCmd.AddCommand(modelCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(idCmd())
	rootCmd.AddCommand(partsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create ifcv.yml, migrate the database and bootstrap the system actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s exists, keeping it (use --force to overwrite)\n", path)
			} else {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", path)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.EnsureUser(ctx, e.Config.Actor.System)
				if err != nil {
					return err
				}
				fmt.Printf("system actor %s (%s) ready\n", u.Username, publicID(e, obfuscate.ActorKind, u.ID))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing ifcv.yml")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := migrate.Version(ctx, db.Handle{DB: e.DB, Dialect: db.Dialect(e.Config.Database.Driver)})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"version": v})
				}
				fmt.Printf("schema at version %d\n", v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Configuration is read from <workspace>/ifcv.yml and overridden by IFCV_* environment variables and flags.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configTemplateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
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
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
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

func configTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template",
		Short: "Print a commented default ifcv.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	}
}

func idCmd() *cobra.Command {
	id := &cobra.Command{Use: "id", Short: "Convert between internal and public ids"}
	id.AddCommand(&cobra.Command{
		Use:   "encode <kind> <id>",
		Short: "Encode an internal id (kinds: model, model_instance, validation_request, validation_task, validation_outcome, actor or a prefix letter)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := obfuscatorFromConfig()
			if err != nil {
				return err
			}
			kind, err := obfuscate.ParseKind(args[0])
			if err != nil {
				return err
			}
			var n int64
			if _, err := fmt.Sscan(args[1], &n); err != nil {
				return fmt.Errorf("invalid id %q", args[1])
			}
			public, err := ids.Encode(kind, n)
			if err != nil {
				return err
			}
			return printJSONOrLine(map[string]any{"kind": kind.String(), "public_id": public}, public)
		},
	})
	id.AddCommand(&cobra.Command{
		Use:   "decode <public-id>",
		Short: "Decode a public id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := obfuscatorFromConfig()
			if err != nil {
				return err
			}
			kind, n, err := ids.Decode(args[0])
			if err != nil {
				return err
			}
			return printJSONOrLine(map[string]any{"kind": kind.String(), "id": n}, fmt.Sprintf("%s %d", kind, n))
		},
	})
	return id
}

func partsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parts [code]",
		Short: "Show the functional part hierarchy under a code, and its parent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := []domain.FunctionalPart{"POS", "GEM", "OJP"}
			if len(args) == 1 {
				codes = []domain.FunctionalPart{domain.FunctionalPart(strings.ToUpper(args[0]))}
			}
			var nodes []domain.PartNode
			for _, c := range codes {
				node, err := domain.PartHierarchy(c)
				if err != nil {
					return err
				}
				nodes = append(nodes, node)
			}
			if viper.GetBool("json") {
				if len(args) == 1 {
					parent, _ := domain.PartParent(codes[0])
					return printJSON(map[string]any{"hierarchy": nodes[0], "parent": parent})
				}
				return printJSON(nodes)
			}
			for _, n := range nodes {
				printPartTree(n, "", true)
			}
			if len(args) == 1 {
				if parent, ok := domain.PartParent(codes[0]); ok {
					fmt.Printf("parent: %s (%s)\n", parent.Code, parent.Name)
				}
			}
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				p := server.NewPresenter(e)
				out := make([]server.EventResponse, 0, len(events))
				for _, evt := range events {
					out = append(out, p.Event(evt))
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range out {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityKind + " " + evt.EntityID, evt.ActorID, string(evt.Payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if addr == "" {
					addr = e.Config.Server.Addr
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:        e.Config.Server.JWTSecret,
					AllowActorHeader: e.Config.Server.AllowActorHeader,
					Logger:           e.Logger,
				}
				if authCfg.JWTSecret == "" {
					e.Logger.Warn("IFCV_SERVER_JWT_SECRET not set, bearer tokens are rejected")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: e.Logger})
				if err != nil {
					return err
				}
				ctx, stop := context.WithCancel(ctx)
				defer stop()
				server.StartWebhooks(ctx, e, e.Config.Webhooks, e.Logger)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				shown := basePath
				if shown == "" {
					shown = "/v1"
				}
				e.Logger.Info("serving ifcv API", "addr", addr, "base_path", shown)
				fmt.Printf("Serving ifcv API on http://%s%s (OpenAPI at /openapi.json, docs at /docs, metrics at /metrics)\n", addr, shown)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default /v1)")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(viper.GetString(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.Driver, "database.driver")
	override(&cfg.Database.DSN, "database.dsn")
	override(&cfg.Log.Level, "log.level")
	override(&cfg.Log.Format, "log.format")
	override(&cfg.Log.File, "log.file")
	override(&cfg.Actor.System, "actor.system")
	override(&cfg.Server.Addr, "server.addr")
	override(&cfg.Server.JWTSecret, "server.jwt_secret")
	if v := viper.GetUint64("ids.modulus"); v != 0 {
		cfg.IDs.Modulus = v
	}
	if v := viper.GetUint64("ids.secret"); v != 0 {
		cfg.IDs.Secret = v
	}
	if viper.IsSet("server.allow_actor_header") {
		cfg.Server.AllowActorHeader = viper.GetBool("server.allow_actor_header")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func obfuscatorFromConfig() (obfuscate.Obfuscator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return obfuscate.Obfuscator{}, err
	}
	return cfg.Obfuscator()
}

// withEngine opens the workspace database, migrates it and runs fn with no actor bound.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(cfg.DB(workspace))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return err
	}
	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(workspace, logFile)
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: logFile})
	if err != nil {
		return err
	}
	defer closeLog()
	e, err := engine.New(conn, cfg)
	if err != nil {
		return err
	}
	e.Logger = logger
	return fn(ctx, e)
}

// withActor is withEngine with --actor-id, or the system actor, bound to ctx.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		var (
			bound context.Context
			err   error
		)
		if ref := strings.TrimSpace(viper.GetString("actor-id")); ref != "" {
			bound, err = app.RefContext(ctx, e.Repo, e.IDs, ref)
		} else {
			bound, err = app.SystemContext(ctx, e.Repo, e.Config.Actor.System)
		}
		if err != nil {
			return err
		}
		return fn(bound, e)
	})
}

func parseID(e engine.Engine, kind obfuscate.Kind, public string) (int64, error) {
	id, err := e.IDs.DecodeAs(kind, strings.TrimSpace(public))
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q: %w", kind, public, err)
	}
	return id, nil
}

func parseIDs(e engine.Engine, kind obfuscate.Kind, public []string) ([]int64, error) {
	ids := make([]int64, 0, len(public))
	for _, p := range public {
		id, err := parseID(e, kind, p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func publicID(e engine.Engine, kind obfuscate.Kind, id int64) string {
	s, err := e.IDs.Encode(kind, id)
	if err != nil {
		return "?"
	}
	return s
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
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

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printPartTree(n domain.PartNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s %s\n", prefix, connector, n.Code, n.Name)
	for i, c := range n.SubParts {
		printPartTree(c, newPrefix, i == len(n.SubParts)-1)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
