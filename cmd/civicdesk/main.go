package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"civicdesk/internal/bot"
	"civicdesk/internal/config"
	"civicdesk/internal/db"
	"civicdesk/internal/engine"
	"civicdesk/internal/migrate"
	"civicdesk/internal/projection"
	"civicdesk/internal/server"
	"civicdesk/internal/watch"
	civicdesksdk "civicdesk/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "civicdesk",
	Short: "CivicDesk CLI",
	Long: `CivicDesk tracks civic complaints through their lifecycle with SLA deadlines.
- Workspace: a .civicdesk directory holding the database and uploaded images.
- Complaints: filed by citizens, they flow new -> classified -> under_action -> resolved.
- Classification: assigns a department and priority; priority sets the SLA deadline.
- Actions: every change appends to the complaint's audit trail, view with 'civicdesk complaint get'.
- Event log: diary of service events, view with 'civicdesk log tail'.
- Dashboard: 'civicdesk watch' polls a running server and renders the overview.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CIVICDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "actor name recorded in the audit trail")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
}

func complaintCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "complaint",
		Short: "Manage complaints",
		Long:  "Complaints flow new -> classified -> under_action -> resolved. Classification sets the SLA deadline; every change is recorded in the audit trail.",
	}
	c.AddCommand(complaintSubmitCmd())
	c.AddCommand(complaintListCmd())
	c.AddCommand(complaintGetCmd())
	c.AddCommand(complaintMineCmd())
	c.AddCommand(complaintSetStatusCmd())
	c.AddCommand(complaintClassifyCmd())
	return c
}

func complaintSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "File a complaint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				opts.Lat = &lat
			}
			if cmd.Flags().Changed("lng") {
				opts.Lng = &lng
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Submit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.UserID, "user-id", "", "citizen id")
	cmd.Flags().StringVar(&opts.UserName, "user-name", "", "citizen name")
	cmd.Flags().StringVar(&opts.Mobile, "mobile", "", "contact number")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what happened")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("user-name")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func complaintListCmd() *cobra.Command {
	var department string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := projection.New(e.Repo)
				p.Now = e.Now
				ov, err := p.AllComplaints(ctx, department)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ov)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Priority", "Department", "Age", "Overdue", "Description"})
				for _, c := range ov.Items {
					tw.AppendRow(table.Row{
						c.ID, c.Status, displayValue(c.Priority), displayValue(c.Department),
						engine.FormatElapsed(c.TimePassed), c.IsOverdue, c.Description,
					})
				}
				tw.Render()
				if ov.AnyOverdue {
					fmt.Println("!! overdue complaints present")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department filter")
	return cmd
}

func complaintGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one complaint with its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := projection.New(e.Repo)
				p.Now = e.Now
				dec, err := p.One(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndent(dec)
			})
		},
	}
	return cmd
}

func complaintMineCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "mine",
		Short: "List a citizen's complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user-id required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := projection.New(e.Repo)
				p.Now = e.Now
				items, err := p.MyComplaints(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(items)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "citizen id")
	return cmd
}

func complaintSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Move a complaint through the lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Transition(ctx, id, status, viper.GetString("actor"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func complaintClassifyCmd() *cobra.Command {
	var department, priority string
	cmd := &cobra.Command{
		Use:   "classify <id>",
		Short: "Assign department and priority (sets the SLA deadline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Classify(ctx, id, department, priority, viper.GetString("actor"))
				if err != nil {
					return err
				}
				return printJSONOrIndent(c)
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department")
	cmd.Flags().StringVar(&priority, "priority", "", "High, Medium or Low")
	_ = cmd.MarkFlagRequired("department")
	_ = cmd.MarkFlagRequired("priority")
	return cmd
}

func botCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bot",
		Short: "Talk to the helper bot",
	}
	b.AddCommand(botAskCmd())
	b.AddCommand(botStatusCmd())
	return b
}

func botAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Ask a general question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withEngine(cmd.Context(), func(_ context.Context, e engine.Engine) error {
				p := projection.New(e.Repo)
				p.Now = e.Now
				r := bot.New(p, e.Config)
				fmt.Println(r.Answer(message))
				return nil
			})
		},
	}
	return cmd
}

func botStatusCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "status <message>",
		Short: "Ask about your complaints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := projection.New(e.Repo)
				p.Now = e.Now
				r := bot.New(p, e.Config)
				fmt.Println(r.CheckStatus(ctx, userID, message))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "citizen id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect service config",
		Long:  "Config is the rulebook: SLA hours per priority, known departments, the geocoder endpoint and the bot's FAQ table. Stored as civicdesk.yml in the workspace.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var serviceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default civicdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(serviceID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceID, "service-id", "civicdesk", "service identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrIndent(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate civicdesk.yml",
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
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Service event log",
		Long:  "The diary of everything that happened: submissions, classifications, transitions, forced overrides.",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, complaintID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, complaintID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&complaintID, "complaint-id", "", "complaint filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			uploadsDir, err := db.UploadsDir(workspace)
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
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			p := projection.New(e.Repo)
			authCfg := server.AuthConfig{
				JWTSecret:        cfg.Auth.JWTSecret,
				AllowActorHeader: cfg.Auth.AllowHeaderActor,
			}
			if secret := os.Getenv("CIVICDESK_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{
				Engine:     e,
				Projection: p,
				Bot:        bot.New(p, cfg),
				BasePath:   basePath,
				UploadsDir: uploadsDir,
				Auth:       authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving CivicDesk API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func watchCmd() *cobra.Command {
	var serverURL, department string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a running server and render the complaint overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := civicdesksdk.New(serverURL)
			client.ActorName = viper.GetString("actor")
			w := watch.New(client, department)
			w.Interval = interval
			err := w.Run(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", "http://127.0.0.1:8080", "server base URL")
	cmd.Flags().StringVar(&department, "department", "", "department filter")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "refresh interval")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default("civicdesk")
	}
	return cfg, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrIndent(v any) error {
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

func displayValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
