/*
Tally runs the backend for a livestream overlay that tracks named counters
per game. An operator signed in through Discord (and belonging to the
designated guild) can create, delete, increment, and decrement counters;
anyone can read them, and an event stream tells connected overlays to
re-fetch when something changes.

It takes in no flags but multiple environment variables. It will not serve
TLS by default, but can be enabled if a cert and key file are provided.

It's backed by a SQLite DB, but does not require CGO to compile. There are
migrations in the repo that are run on startup before the server listens to
connections. If REDIS_URL is set the broadcast channel rides on Redis
pub/sub instead of process memory.
*/
package main

import (
	"context"
	"embed"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/streamkit/tally/internal/auth"
	"github.com/streamkit/tally/internal/bus"
	"github.com/streamkit/tally/internal/core"
	"github.com/streamkit/tally/internal/core/db"
	"github.com/streamkit/tally/internal/discord"
	"github.com/streamkit/tally/internal/logging"
	"github.com/streamkit/tally/internal/server"
)

//go:embed migrate/*
var f embed.FS

func main() {
	l := logging.NewLogger()
	defer func() {
		if err := l.Sync(); err != nil {
			log.Fatalf("error syncing logger: %s", err)
		}
	}()

	l.Debug("parsing config...")
	var cfg config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		l.Fatalf("error parsing config: %s", err)
	}
	l.Infow("parsed config", "config", cfg)

	// Connect to the database
	sqlDB, err := setupDB(cfg)
	if err != nil {
		l.Fatalf("error opening db: %s", err)
	}
	defer sqlDB.Close()
	d := db.New(sqlDB)

	// The broadcast channel: Redis when configured, in-process otherwise
	var b bus.Bus
	if cfg.RedisURL != "" {
		redisCfg := bus.DefaultRedisConfig()
		redisCfg.URL = cfg.RedisURL
		b, err = bus.NewRedis(redisCfg, l.Named("bus"))
		if err != nil {
			l.Fatalf("error connecting to redis: %s", err)
		}
	} else {
		b = bus.NewMemory(l.Named("bus"))
	}
	defer b.Close()

	cr := core.New(d, b, l.Named("core"))

	dCli := discord.NewClient(
		discord.ClientConfig{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURL,
		},
		l.Named("discord_client"),
	)

	authSvc := auth.New(dCli, auth.Config{
		GuildID:         cfg.DiscordGuildID,
		SessionDuration: cfg.SessionTTL,
	})

	s := server.New(
		l.Named("server"),
		server.Config{
			Port: cfg.Port,
		},
		cr,
		authSvc,
		b,
	)

	// Shut the server down cleanly on SIGINT/SIGTERM
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		l.Info("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			l.Errorw("error shutting down", "err", err)
		}
	}()

	l.Infof("serving on port %d", cfg.Port)
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		err = s.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if err != nil {
		l.Errorw("error while serving", "err", err)
	}
}

type config struct {
	// Server
	Port        int    `env:"PORT,default=8080"`
	TLSCertFile string `env:"TLS_CERT_FILE"`
	TLSKeyFile  string `env:"TLS_KEY_FILE"`

	// Database
	DBPath string `env:"DB_PATH,default=tally.sqlite"`

	// Broadcast channel; empty means in-process
	RedisURL string `env:"REDIS_URL"`

	// Discord stuffs
	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL  string `env:"DISCORD_REDIRECT_URL"`
	// The guild an account must belong to before it gets a session
	DiscordGuildID string `env:"DISCORD_GUILD_ID"`

	SessionTTL time.Duration `env:"SESSION_TTL,default=24h"`
}

func (c config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("port", c.Port)
	enc.AddString("db_path", c.DBPath)
	enc.AddString("tls_cert_file", c.TLSCertFile)
	enc.AddString("tls_key_file", c.TLSKeyFile)
	enc.AddString("redis_url", c.RedisURL)
	enc.AddString("discord_client_id", c.DiscordClientID)
	enc.AddString("discord_redirect_url", c.DiscordRedirectURL)
	enc.AddString("discord_guild_id", c.DiscordGuildID)
	enc.AddDuration("session_ttl", c.SessionTTL)

	return nil
}

// Connects to the db and migrates it
func setupDB(c config) (*sqlx.DB, error) {
	u, err := url.Parse(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("error parsing db path: %s", err)
	}
	q := u.Query()
	q.Add("_journal", "WAL")
	u.RawQuery = q.Encode()

	db, err := sqlx.Open("sqlite", u.String())
	if err != nil {
		return nil, fmt.Errorf("error opening db: %s", err)
	}

	// Perform migrations
	ups, err := f.ReadDir("migrate")
	if err != nil {
		return nil, fmt.Errorf("error reading migration dir: %s", err)
	}

	for _, up := range ups {
		if up.IsDir() {
			continue
		}

		if !strings.HasSuffix(up.Name(), "sql") {
			continue
		}

		upBytes, err := f.ReadFile(filepath.Join("migrate", up.Name()))
		if err != nil {
			return nil, fmt.Errorf("error reading up file: %s", err)
		}

		_, err = db.Exec(string(upBytes))
		if err != nil {
			return nil, fmt.Errorf("error executing up query for file %s: %s", up.Name(), err)
		}
	}

	return db, nil
}
