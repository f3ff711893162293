package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-oauth-relay/bot"
	"github.com/jrsteele09/go-oauth-relay/dialog"
	"github.com/jrsteele09/go-oauth-relay/internal/config"
	"github.com/jrsteele09/go-oauth-relay/oauthclient"
	"github.com/jrsteele09/go-oauth-relay/pending"
	"github.com/jrsteele09/go-oauth-relay/profile"
	"github.com/jrsteele09/go-oauth-relay/server"
	"github.com/jrsteele09/go-oauth-relay/sessions"
	"github.com/jrsteele09/go-oauth-relay/tokenstore"
	"github.com/jrsteele09/go-oauth-relay/tokenstore/sqlite"
	"github.com/jrsteele09/go-oauth-relay/turn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type flags struct {
	port       string
	tokenStore string
}

func main() {
	var f flags
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	fs.StringVar(&f.port, "port", "", "listen port (overrides PORT)")
	fs.StringVar(&f.tokenStore, "token-store", "", "token store backend: memory or sqlite (overrides TOKEN_STORE)")
	_ = fs.Parse(os.Args[1:])

	if err := run(f); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run(f flags) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c, err = config.WithTokenStore(c, f.tokenStore); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, closeTokens, err := openTokenStore(c)
	if err != nil {
		return err
	}
	defer closeTokens()

	pendingRepo := pending.NewInMemoryRepo()
	coordinator, err := turn.NewCoordinator(
		turn.Stores{Sessions: sessions.NewInMemoryRepo(), Tokens: tokens, Pending: pendingRepo},
		turn.WithMaxSessionAge(c.GetMaxSessionAge()),
	)
	if err != nil {
		return err
	}

	exchanger, err := oauthclient.New(oauthclient.Settings{
		ProviderID:   c.GetProviderID(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		AuthorizeURL: c.GetAuthorizeURL(),
		TokenURL:     c.GetTokenURL(),
		RedirectURL:  c.GetRedirectURL(),
		Scopes:       c.GetScopes(),
	})
	if err != nil {
		return err
	}
	fetcher, err := profile.New(c.GetProfileURL(), userAgent(c.GetAppName()))
	if err != nil {
		return err
	}

	loginDialog, err := dialog.NewOAuthDialog(dialog.Settings{
		ProviderID:   c.GetProviderID(),
		ProviderName: c.GetProviderName(),
		PendingTTL:   c.GetPendingAuthTTL(),
	}, exchanger, pendingRepo, coordinator)
	if err != nil {
		return err
	}
	router, err := bot.NewRouter(bot.Settings{
		ProviderID:   c.GetProviderID(),
		ProviderName: c.GetProviderName(),
	}, coordinator, loginDialog, fetcher)
	if err != nil {
		return err
	}

	verifier, err := server.NewWebhookVerifier(ctx, c)
	if err != nil {
		return err
	}
	handler, err := server.New(c, router, loginDialog, verifier)
	if err != nil {
		return err
	}

	addr := c.GetPort()
	if f.port != "" {
		addr = ":" + strings.TrimPrefix(f.port, ":")
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listenAndServe(httpServer)
	})
	g.Go(func() error {
		sweep(gctx, coordinator, c.GetSweepInterval())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(httpServer)
	})
	return g.Wait()
}

func openTokenStore(c config.Config) (tokenstore.Store, func(), error) {
	if c.GetTokenStore() != config.StoreSQLite {
		log.Info().Msg("using in-memory token store")
		return tokenstore.NewInMemoryStore(), func() {}, nil
	}
	store, err := sqlite.Open(c.GetTokenStorePath(), c.GetTokenEncryptionKey())
	if err != nil {
		return nil, nil, fmt.Errorf("open token store: %w", err)
	}
	log.Info().Str("path", c.GetTokenStorePath()).Msg("using sqlite token store")
	return store, func() {
		if err := store.Close(); err != nil {
			log.Err(err).Msg("close token store")
		}
	}, nil
}

func sweep(ctx context.Context, coordinator *turn.Coordinator, interval time.Duration) {
	if interval <= 0 {
		log.Warn().Msg("expiry sweeper disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := coordinator.Sweep(ctx); err != nil {
				log.Err(err).Msg("sweep failed")
			}
		}
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func setupLogging(env string) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if env == "DEV" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// userAgent is sent to the profile endpoint; some providers reject requests without one.
func userAgent(appName string) string {
	return strings.ReplaceAll(appName, " ", "-") + "/1.0"
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
