package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/ait/internal/apiclient"
	"github.com/joescharf/ait/internal/auth"
	"github.com/joescharf/ait/internal/csrf"
	"github.com/joescharf/ait/internal/issues"
	"github.com/joescharf/ait/internal/observability"
	"github.com/joescharf/ait/internal/output"
	"github.com/joescharf/ait/internal/router"
	"github.com/joescharf/ait/internal/store"
	"github.com/joescharf/ait/internal/triage"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *zap.Logger
	dataStore store.Store
	deps      *appDeps

	verbose bool
	dryRun  bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "ait",
	Short: "Academic issue tracker client",
	Long: `ait is the client for the academic issue tracking service.

Students raise issues about missing marks, appeals and corrections;
lecturers work the issues assigned to them; registrars assign issues
to lecturers. Sign in once with 'ait login <role>' and the session is
kept until you log out or the server rejects it.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		if ui != nil {
			ui.Notify(err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/ait/config.yaml)")
}

func initConfig() {
	// A .env in the working directory feeds AIT_* variables; real env wins.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AIT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key. dir is the state directory.
func setDefaults(dir string) {
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "ait.db"))
	viper.SetDefault("log.level", "warn")

	viper.SetDefault("api.base_url", "http://localhost:8000")
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("api.csrf_path", "/api/csrf/")
	viper.SetDefault("api.csrf_on_bearer", false)
	viper.SetDefault("api.issues_path", issues.DefaultPaths.Issues)
	viper.SetDefault("api.issue_path", issues.DefaultPaths.Detail)
	viper.SetDefault("api.profile_path", issues.DefaultPaths.Profile)
	viper.SetDefault("api.lecturers_path", issues.DefaultPaths.Lecturers)
	viper.SetDefault("api.cache_ttl", issues.DefaultCacheTTL)

	viper.SetDefault("auth.login_path", "/api/auth/{role}/login/")
	viper.SetDefault("auth.register_path", "/api/auth/{role}/register/")

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("host", "127.0.0.1")
	viper.SetDefault("port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := observability.NewLogger(level)
	if err != nil {
		l = zap.NewNop()
	}
	logger = l

	// Store and API client are built lazily so config/version run without them.
}

// rootRun handles `ait` with no subcommand: show who is signed in.
func rootRun(cmd *cobra.Command) error {
	d, err := getApp(cmd.Context())
	if err != nil {
		return cmd.Help()
	}
	if snap := d.router.Current(); snap.State != router.StateAuthenticated {
		ui.Info("Not signed in. Run 'ait login <student|lecturer|registrar>'.")
		return nil
	}
	return whoamiRun(cmd.Context())
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// appDeps is the wired client: one API client whose 401/403 hook drives the
// router, and the gateway and issue service sharing its store.
type appDeps struct {
	router *router.Router
	auth   *auth.Gateway
	issues *issues.Service
	triage *triage.Suggester
	store  store.Store
}

// getApp wires the client on first call and restores the stored session.
func getApp(ctx context.Context) (*appDeps, error) {
	if deps != nil {
		return deps, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := getStore()
	if err != nil {
		return nil, err
	}

	api, err := apiclient.New(apiclient.Config{
		BaseURL: viper.GetString("api.base_url"),
		Timeout: viper.GetDuration("api.timeout"),
	}, s, logger)
	if err != nil {
		return nil, err
	}

	r := router.New(s, logger)
	api.OnSessionExpired(r.Expire)
	if _, err := r.Restore(ctx); err != nil {
		ui.Warning("Could not read the stored session: %v", err)
	}

	tokens := csrf.NewProvider(api, viper.GetString("api.csrf_path"))
	gw := auth.NewGateway(api, tokens, s, r, auth.Endpoints{
		Login:    viper.GetString("auth.login_path"),
		Register: viper.GetString("auth.register_path"),
	}, logger)

	svc := issues.NewService(api, s, s, issues.Config{
		Paths: issues.Paths{
			Issues:    viper.GetString("api.issues_path"),
			Detail:    viper.GetString("api.issue_path"),
			Profile:   viper.GetString("api.profile_path"),
			Lecturers: viper.GetString("api.lecturers_path"),
		},
		CSRF:         tokens,
		CSRFOnBearer: viper.GetBool("api.csrf_on_bearer"),
		CacheTTL:     viper.GetDuration("api.cache_ttl"),
	}, logger)

	var model triage.Model
	if c := newLLMClient(); c != nil {
		model = c
	}

	deps = &appDeps{
		router: r,
		auth:   gw,
		issues: svc,
		triage: triage.NewSuggester(model, logger),
		store:  s,
	}
	return deps, nil
}
