package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"freshline/internal/config"
	"freshline/internal/db"
	"freshline/internal/domain"
	"freshline/internal/engine"
	"freshline/internal/migrate"
	"freshline/internal/observability"
	"freshline/internal/repo"
	"freshline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Freshline CLI",
	Long: `Freshline tracks rebuild events and the artifact builds they cause.
An event records an external change (errata shipped, spec file updated, base
image rebuilt); artifact builds form a dependency forest under the event and
a failed or canceled build cascades to everything built on top of it.`,
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
	viper.SetEnvPrefix("FRESHLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to freshline.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(buildCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(auditCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, cfg *config.Config) error {
				if addr == "" {
					addr = cfg.Server.Addr
				}
				metrics, err := observability.NewMetrics()
				if err != nil {
					return err
				}
				e.Metrics = metrics
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: cfg.Server.BasePath,
					BaseURL:  cfg.Server.BaseURL,
					Auth: server.AuthConfig{
						Enabled:   cfg.Auth.Enabled,
						JWTSecret: cfg.Auth.JWTSecret,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Freshline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
					addr, cfg.Server.BasePath, cfg.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("config"))
			if err != nil {
				return err
			}
			conn, dialect, err := db.Open(cfg.Store)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn, dialect); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Manage rebuild events"}
	ev.AddCommand(eventCreateCmd())
	ev.AddCommand(eventListCmd())
	ev.AddCommand(eventShowCmd())
	ev.AddCommand(eventDepsCmd())
	ev.AddCommand(eventReleaseCmd())
	return ev
}

func eventCreateCmd() *cobra.Command {
	var messageID, searchKey, kind string
	var unreleased bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Get or create an event by message id",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseEventKind(kind)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				released := !unreleased
				ev, created, err := e.GetOrCreateEvent(ctx, engine.EventOptions{
					MessageID: messageID,
					SearchKey: searchKey,
					Kind:      k,
					Released:  &released,
				})
				if err != nil {
					return err
				}
				if !created && !viper.GetBool("json") {
					fmt.Printf("event %d already exists for message %s\n", ev.ID, ev.MessageID)
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&messageID, "message-id", "", "unique message id")
	cmd.Flags().StringVar(&searchKey, "search-key", "", "search key (advisory id, NVR, ...)")
	cmd.Flags().StringVar(&kind, "kind", "", "event kind")
	cmd.Flags().BoolVar(&unreleased, "unreleased", false, "create with released=false")
	_ = cmd.MarkFlagRequired("message-id")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func eventListCmd() *cobra.Command {
	var kind, searchKey, released string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				f := repo.EventFilters{SearchKey: searchKey, Limit: limit}
				if kind != "" {
					k, err := domain.ParseEventKind(kind)
					if err != nil {
						return err
					}
					f.Kind = k
				}
				switch released {
				case "true":
					t := true
					f.Released = &t
				case "false":
					fa := false
					f.Released = &fa
				case "":
				default:
					return fmt.Errorf("--released must be true or false")
				}
				events, err := e.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Message ID", "Kind", "Search Key", "Released", "Created"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.MessageID, string(ev.Kind), ev.SearchKey, ev.Released, ev.TimeCreated})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&searchKey, "search-key", "", "search key filter")
	cmd.Flags().StringVar(&released, "released", "", "released filter (true/false)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func eventShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an event and its builds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				ev, err := e.Repo.GetEvent(ctx, id)
				if err != nil {
					return err
				}
				builds, err := e.Repo.ListEventBuilds(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"event": ev, "builds": builds})
				}
				fmt.Printf("Event %d  message_id=%s  kind=%s  search_key=%s  released=%v\n",
					ev.ID, ev.MessageID, ev.Kind, ev.SearchKey, ev.Released)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "State", "Reason", "Dep On"})
				for _, b := range builds {
					depOn := ""
					if b.DepOnID != nil {
						depOn = strconv.FormatInt(*b.DepOnID, 10)
					}
					tw.AppendRow(table.Row{b.ID, b.Name, b.Type.String(), b.State.String(), b.StateReason, depOn})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func eventDepsCmd() *cobra.Command {
	var dependsOn int64
	cmd := &cobra.Command{
		Use:   "deps <id>",
		Short: "Show or add event dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				if cmd.Flags().Changed("add") {
					if err := e.AddEventDependency(ctx, id, dependsOn); err != nil {
						return err
					}
				}
				deps, err := e.EventDependencies(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(deps)
			})
		},
	}
	cmd.Flags().Int64Var(&dependsOn, "add", 0, "record a dependency on the given event id")
	return cmd
}

func eventReleaseCmd() *cobra.Command {
	var unrelease bool
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Set the released flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				if err := e.SetEventReleased(ctx, id, !unrelease); err != nil {
					return err
				}
				ev, err := e.Repo.GetEvent(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().BoolVar(&unrelease, "undo", false, "set released=false instead")
	return cmd
}

func buildCmd() *cobra.Command {
	b := &cobra.Command{Use: "build", Short: "Manage artifact builds"}
	b.AddCommand(buildCreateCmd())
	b.AddCommand(buildListCmd())
	b.AddCommand(buildShowCmd())
	b.AddCommand(buildTransitionCmd())
	return b
}

func buildCreateCmd() *cobra.Command {
	var eventID, depOnID, externalID int64
	var name, typ, originalNVR, buildArgs string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an artifact build under an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseArtifactType("type", typ)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				opts := engine.BuildCreateOptions{
					EventID: eventID,
					Name:    name,
					Type:    t,
				}
				if cmd.Flags().Changed("dep-on") {
					opts.DepOnID = &depOnID
				}
				if cmd.Flags().Changed("build-id") {
					opts.BuildID = &externalID
				}
				if originalNVR != "" {
					opts.OriginalNVR = &originalNVR
				}
				if buildArgs != "" {
					opts.BuildArgs = &buildArgs
				}
				b, err := e.CreateBuild(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event id")
	cmd.Flags().StringVar(&name, "name", "", "artifact name")
	cmd.Flags().StringVar(&typ, "type", "", "artifact type (rpm, image, module, repository)")
	cmd.Flags().Int64Var(&depOnID, "dep-on", 0, "build id this build depends on")
	cmd.Flags().Int64Var(&externalID, "build-id", 0, "external build system id")
	cmd.Flags().StringVar(&originalNVR, "original-nvr", "", "NVR of the artifact being rebuilt")
	cmd.Flags().StringVar(&buildArgs, "build-args", "", "opaque build arguments (JSON)")
	_ = cmd.MarkFlagRequired("event")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func buildListCmd() *cobra.Command {
	var eventID int64
	var state, typ, name string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				f := repo.BuildFilters{EventID: eventID, Name: name, Limit: limit}
				if state != "" {
					s, err := domain.ParseBuildState("state", state)
					if err != nil {
						return err
					}
					f.State = &s
				}
				if typ != "" {
					t, err := domain.ParseArtifactType("type", typ)
					if err != nil {
						return err
					}
					f.Type = &t
				}
				builds, err := e.Repo.ListBuilds(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(builds)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Event", "Name", "Type", "State", "Reason"})
				for _, b := range builds {
					tw.AppendRow(table.Row{b.ID, b.EventID, b.Name, b.Type.String(), b.State.String(), b.StateReason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&eventID, "event", 0, "event filter")
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().StringVar(&typ, "type", "", "type filter")
	cmd.Flags().StringVar(&name, "name", "", "exact artifact name filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func buildShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a build and its dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				b, err := e.Repo.GetBuild(ctx, id)
				if err != nil {
					return err
				}
				deps, err := e.Dependents(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"build": b, "dependents": deps})
			})
		},
	}
	return cmd
}

func buildTransitionCmd() *cobra.Command {
	var state, reason string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Transition a build, cascading failures to dependents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := domain.ParseBuildState("state", state)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				b, err := e.Transition(ctx, id, s, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "target state (build, done, failed, canceled)")
	cmd.Flags().StringVar(&reason, "reason", "", "human-readable reason")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyDeleteCmd())
	return k
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				keys, err := e.Repo.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func auditCmd() *cobra.Command {
	var n int
	var cursor int64
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ *config.Config) error {
				entries, err := e.Repo.AuditAfter(ctx, n, cursor)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of entries")
	cmd.Flags().Int64Var(&cursor, "after", 0, "only entries after this id")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, *config.Config) error) error {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return err
	}
	conn, dialect, err := db.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn, dialect); err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	e := engine.New(conn, dialect, cfg, logger)
	return fn(ctx, e, cfg)
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

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
