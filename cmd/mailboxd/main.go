// Command mailboxd runs the mailbox sync engine headless: it connects
// the realtime channel for the active account, keeps the timed cache
// reconciled, and logs the update stream. Hosts embedding the engine
// use the internal packages directly; this binary is the reference
// wiring.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailboxd/internal/cache"
	"github.com/nhle/mailboxd/internal/channel"
	"github.com/nhle/mailboxd/internal/channel/ws"
	"github.com/nhle/mailboxd/internal/credential"
	"github.com/nhle/mailboxd/internal/model"
	"github.com/nhle/mailboxd/internal/rest"
	"github.com/nhle/mailboxd/internal/session"
	syncengine "github.com/nhle/mailboxd/internal/sync"
)

func main() {
	configPath := flag.String(
		"config", model.DefaultConfigPath(), "path to the config file",
	)
	account := flag.String(
		"account", "", "account identity to activate (default: last used)",
	)
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	if cfg.Channel.URL == "" {
		log.Fatal().Str("config", *configPath).
			Msg("channel.url is not configured")
	}

	sessions, err := session.Open(cfg.Session.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("opening session store")
	}
	defer sessions.Close()

	ctx := context.Background()

	identity, err := resolveAccount(ctx, cfg, sessions, *account)
	if err != nil {
		log.Fatal().Err(err).Msg("resolving account")
	}

	token, err := credential.Get(identity)
	if err != nil {
		log.Fatal().Err(err).Str("account", identity).
			Msg("no stored token; link the account first")
	}

	mgr := channel.New(channel.Options{
		Transport:        ws.New(cfg.Channel.URL),
		Logger:           log,
		MinBackoff:       time.Duration(cfg.Channel.MinBackoffSec) * time.Second,
		MaxBackoff:       time.Duration(cfg.Channel.MaxBackoffSec) * time.Second,
		UnreachableAfter: cfg.Channel.UnreachableAfter,
	})

	store := cache.NewWithTTL(
		time.Duration(cfg.Cache.TTLSec)*time.Second, nil,
	)

	coord := syncengine.New(store, mgr, sessions, log)
	defer coord.Close()

	if err := coord.Activate(
		ctx, identity, channel.Credentials{Token: token},
	); err != nil {
		log.Fatal().Err(err).Str("account", identity).Msg("activating account")
	}
	log.Info().Str("account", identity).Msg("engine running")

	go drainUpdates(coord, log)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown
	log.Info().Msg("shutting down")
}

// resolveAccount picks the account identity to activate: the explicit
// flag, then the session store's last active account, then the first
// linked account reported by the account service.
func resolveAccount(
	ctx context.Context,
	cfg *model.AppConfig,
	sessions *session.Store,
	flagAccount string,
) (string, error) {
	if flagAccount != "" {
		return flagAccount, nil
	}

	if last, err := sessions.ActiveAccount(ctx); err == nil && last != "" {
		return last, nil
	}

	apiToken, err := credential.Get("api-token")
	if err != nil {
		return "", err
	}
	accounts, err := rest.NewClient(cfg.REST.BaseURL, apiToken).
		ListAccounts(ctx, "")
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", errors.New("no linked accounts")
	}
	return accounts[0].Identity, nil
}

// drainUpdates logs the engine's update stream. A real host feeds these
// into its view layer instead.
func drainUpdates(coord *syncengine.Coordinator, log zerolog.Logger) {
	for u := range coord.Updates() {
		switch v := u.(type) {
		case syncengine.FoldersUpdate:
			log.Info().Int("folders", len(v.Folders)).Msg("folder list updated")
		case syncengine.MessagesUpdate:
			log.Info().Str("folder", v.FolderID).
				Int("messages", len(v.Messages)).Msg("message list updated")
		case syncengine.DetailUpdate:
			log.Info().Str("message", v.Detail.ID).Msg("detail loaded")
		case syncengine.NoticeUpdate:
			log.Warn().Str("notice", v.Message).Msg("notice")
		case syncengine.AuthRequiredUpdate:
			log.Error().Str("account", v.Account).Err(v.Err).
				Msg("re-authentication required")
		case syncengine.SyncedUpdate:
			log.Info().Str("account", v.Account).Msg("sync complete")
		}
	}
}
