package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/robalobadob/mists/internal/auth"
	"github.com/robalobadob/mists/internal/catalog"
	"github.com/robalobadob/mists/internal/database"
	"github.com/robalobadob/mists/internal/httpserver"
	"github.com/robalobadob/mists/internal/puzzle"
	"github.com/robalobadob/mists/internal/store"
)

const releaseVersion = "0.1.0"

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &Config{}
	if err := newCmd(cfg).ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("mists exited")
	}
}

// openDB opens the configured database and applies migrations.
func openDB(ctx context.Context, cfg *Config) (*database.DB, error) {
	db, err := database.Open(cfg.dbDriver, cfg.dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg *Config) error {
	if err := catalog.Init(cfg.catalogFile); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	tokens, attrs := catalog.Stats()
	log.Info().Str("source", catalog.Source()).Int("tokens", tokens).Int("attributes", attrs).Msg("catalog loaded")

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.jwtSecret == defaultJWTSecret {
		log.Warn().Msg("using the development JWT secret; set MISTS_JWT_SECRET")
	}

	rounds := store.NewMemoryStore(cfg.roundTTL)
	defer rounds.Close()

	srv := httpserver.New(db, rounds,
		puzzle.NewGenerator(catalog.Get(), cfg.generatorOptions()...),
		auth.NewTokens(cfg.jwtSecret, cfg.jwtTTL),
		httpserver.Options{
			ClientOrigin:  cfg.clientOrigin,
			DailySalt:     cfg.dailySalt,
			PublicURL:     cfg.publicURL,
			SecureCookies: cfg.secureCookies,
		})

	addr := net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port))
	log.Info().Str("addr", addr).Str("db", db.Driver).Str("version", releaseVersion).Msg("starting mists")
	if err := srv.Run(ctx, addr); err != nil {
		return err
	}
	log.Info().Msg("shut down")
	return nil
}

// printRound writes one round as indented JSON to the command's output.
func printRound(cmd *cobra.Command, cfg *Config) error {
	c, err := catalog.Load(cfg.catalogFile)
	if err != nil {
		return err
	}

	var r *puzzle.Round
	if cmd.Flags().Changed("seed") {
		r, err = puzzle.GenerateRound(c, puzzle.NewRand(cfg.seed), cfg.generatorOptions()...)
	} else {
		r, err = puzzle.GenerateRound(c, nil, cfg.generatorOptions()...)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func migrate(ctx context.Context, cfg *Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info().Str("db", db.Driver).Msg("migrations applied")
	return db.Close()
}
