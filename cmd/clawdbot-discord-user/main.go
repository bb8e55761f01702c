// Copyright 2024-2026 Aiku AI

// Command clawdbot-discord-user runs the discord-user channel
// integration standalone: it connects configured Discord user accounts
// to the gateway and answers admitted messages with a simple echo. In
// production the connector package is embedded in the host chatbot
// runtime instead, which supplies its own dispatcher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/aiku/clawdbot-discord-user/pkg/connector"
	"github.com/aiku/clawdbot-discord-user/pkg/plugin"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// echoDispatcher is the stand-in host pipeline for standalone runs: it
// logs each admitted envelope and echoes the content back.
type echoDispatcher struct {
	log zerolog.Logger
}

func (d *echoDispatcher) DispatchInbound(ctx context.Context, env plugin.Envelope, reply plugin.ReplyFunc) error {
	d.log.Info().
		Str("account_id", env.AccountID).
		Str("channel_id", env.Message.ChannelID).
		Str("author", env.Message.AuthorTag).
		Msg("Inbound message")
	return reply(ctx, fmt.Sprintf("Echo: %s", env.Message.Content))
}

func loadConfig(path string) (*connector.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg connector.Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func setupLogging(logFile string) zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}}
	if logFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envPath := flag.String("env", "", "optional .env file with DISCORD_USER_TOKEN")
	logFile := flag.String("log-file", "", "optional rotating log file")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("clawdbot-discord-user %s (%s) built at %s\n", Tag, Commit, BuildTime)
		return
	}

	log := setupLogging(*logFile)

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatal().Err(err).Str("path", *envPath).Msg("Failed to load env file")
		}
	} else {
		// Best effort: a missing .env in the working directory is fine.
		_ = godotenv.Load()
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", *configPath).Msg("No config file, relying on environment")
			cfg = &connector.Config{}
		} else {
			log.Fatal().Err(err).Msg("Failed to load config")
		}
	}

	conn, err := connector.NewConnector(cfg, &echoDispatcher{log: log}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build connector")
	}

	accountIDs := conn.ListAccountIDs()
	if len(accountIDs) == 0 {
		log.Fatal().Msgf("No accounts configured: set %s or add accounts to channels.%s",
			connector.TokenEnvVar, connector.PluginID)
	}

	ctx := context.Background()
	started := 0
	for _, accountID := range accountIDs {
		if err := conn.StartAccount(ctx, accountID); err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("Failed to start account")
			continue
		}
		started++
	}
	if started == 0 {
		log.Fatal().Msg("No account could be started")
	}
	for _, accountID := range accountIDs {
		for _, warning := range conn.CollectWarnings(accountID) {
			log.Warn().Str("account_id", accountID).Msg(warning.Message)
		}
	}
	log.Info().Int("accounts", started).Str("version", Tag).Msg("Connector running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")
	conn.StopAll()
}
