package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/robalobadob/mists/internal/database"
	"github.com/robalobadob/mists/internal/puzzle"
)

const defaultJWTSecret = "dev_secret_change_me"

type Config struct {
	bind          string
	catalogFile   string
	clientOrigin  string
	dailySalt     string
	dbDriver      string
	dbDSN         string
	jwtSecret     string
	jwtTTL        time.Duration
	logLevel      string
	maxAttempts   int
	port          int
	publicURL     string
	roundTTL      time.Duration
	secureCookies bool
	strict        bool
	verbose       bool

	seed uint64 // round subcommand only
}

func (c *Config) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxAttempts < 1 {
		return fmt.Errorf("invalid max attempts (must be at least 1): %d", c.maxAttempts)
	}
	switch c.dbDriver {
	case database.DriverSQLite, database.DriverPostgres, "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (sqlite3 or pgx)", c.dbDriver)
	}
	if c.dbDSN == "" {
		return errors.New("--db-dsn must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.logLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.logLevel)
	}
	return nil
}

// generatorOptions turns the round flags into generator options.
func (c *Config) generatorOptions() []puzzle.Option {
	opts := []puzzle.Option{puzzle.WithMaxAttempts(c.maxAttempts)}
	if c.strict {
		opts = append(opts, puzzle.WithStrict())
	}
	return opts
}

// setupLogging applies --log-level and switches to a console writer with --verbose.
func (c *Config) setupLogging() {
	if lvl, err := zerolog.ParseLevel(c.logLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if c.verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// bindFlags lets MISTS_* environment variables fill flags the command line
// left unset.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func normalizeFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MISTS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "mists",
		Short:         "Round generator and game server for the mists odd-one-out puzzle.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.setupLogging()
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	// Shared by every subcommand.
	pfs := cmd.PersistentFlags()
	normalizeFlags(pfs)
	pfs.StringVar(&cfg.catalogFile, "catalog", "", "catalog file (.yaml, .yml or .json); embedded glyphs when empty (env: MISTS_CATALOG)")
	pfs.StringVar(&cfg.dbDriver, "db-driver", database.DriverSQLite, "database driver: sqlite3 or pgx (env: MISTS_DB_DRIVER)")
	pfs.StringVar(&cfg.dbDSN, "db-dsn", "./data/mists.db", "database file (sqlite3) or connection URL (pgx) (env: MISTS_DB_DSN)")
	pfs.StringVar(&cfg.logLevel, "log-level", "info", "trace, debug, info, warn or error (env: MISTS_LOG_LEVEL)")
	pfs.IntVar(&cfg.maxAttempts, "max-attempts", puzzle.DefaultMaxAttempts, "attempts before round generation gives up (env: MISTS_MAX_ATTEMPTS)")
	pfs.BoolVar(&cfg.strict, "strict", false, "only accept rounds with exactly one unique attribute (env: MISTS_STRICT)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "human-readable console logs (env: MISTS_VERBOSE)")

	// Server flags, shared with the serve subcommand.
	fs := cmd.Flags()
	normalizeFlags(fs)
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MISTS_BIND)")
	fs.StringVar(&cfg.clientOrigin, "client-origin", "http://localhost:5173", "browser origin allowed by CORS (env: MISTS_CLIENT_ORIGIN)")
	fs.StringVar(&cfg.dailySalt, "daily-salt", "local_dev_salt", "secret mixed into the daily round seed (env: MISTS_DAILY_SALT)")
	fs.StringVar(&cfg.jwtSecret, "jwt-secret", defaultJWTSecret, "HMAC secret for login tokens (env: MISTS_JWT_SECRET)")
	fs.DurationVar(&cfg.jwtTTL, "jwt-ttl", 14*24*time.Hour, "login token lifetime (env: MISTS_JWT_TTL)")
	fs.IntVarP(&cfg.port, "port", "p", 5175, "port to listen on (env: MISTS_PORT)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "base URL encoded in the daily QR code; request host when empty (env: MISTS_PUBLIC_URL)")
	fs.DurationVar(&cfg.roundTTL, "round-ttl", 30*time.Minute, "time before unanswered rounds are dropped (env: MISTS_ROUND_TTL)")
	fs.BoolVar(&cfg.secureCookies, "secure-cookies", false, "Secure, SameSite=None cookies for cross-site deployments (env: MISTS_SECURE_COOKIES)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/WebSocket server (default)",
		Args:  cobra.NoArgs,
		RunE:  cmd.RunE,
	}
	serveCmd.Flags().AddFlagSet(fs)

	roundCmd := &cobra.Command{
		Use:   "round",
		Short: "Generate one round and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printRound(cmd, cfg)
		},
	}
	normalizeFlags(roundCmd.Flags())
	roundCmd.Flags().Uint64Var(&cfg.seed, "seed", 0, "seed for a reproducible round; random when unset (env: MISTS_SEED)")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), cfg)
		},
	}

	cmd.AddCommand(serveCmd, roundCmd, migrateCmd)

	bindFlags(v, pfs)
	bindFlags(v, fs)
	bindFlags(v, roundCmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("mists v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
