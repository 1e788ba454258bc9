package bot

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"phantom-wallet-bot/internal/client"
	"phantom-wallet-bot/internal/config"
	"phantom-wallet-bot/internal/crypt"
	"phantom-wallet-bot/internal/handler"
	"phantom-wallet-bot/internal/logging"
	"phantom-wallet-bot/internal/phantom"
	"phantom-wallet-bot/internal/server"
	"phantom-wallet-bot/internal/storage"
)

// Run starts the Telegram bot and the wallet callback server and blocks until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logging.Log

	// connect links issued before a restart cannot be decrypted after it
	keys, err := crypt.GenerateKeypair(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate exchange keypair: %w", err)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	var vault *crypt.Vault
	if cfg.OnboardingMode == config.OnboardingGenerate {
		if vault, err = crypt.NewVault(cfg.WalletMasterKey); err != nil {
			return err
		}
	}

	links := phantom.LinkBuilder{
		Host:    cfg.PhantomHost,
		AppURL:  cfg.PublicURL,
		Cluster: cfg.SolanaCluster,
	}
	if cfg.PhantomEncryption {
		links.EncryptionKey = keys.PublicKeyBase58()
	}

	dispatcher := handler.New(handler.Deps{
		Store:      store,
		Chain:      client.NewSolanaClient(cfg.SolanaRPCURL),
		Links:      links,
		Admins:     cfg.AdminSet(&log),
		Onboarding: cfg.OnboardingMode,
		Vault:      vault,
		NewWallet:  client.GenerateWallet,
	})

	b, err := tg.New(cfg.BotToken, tg.WithDefaultHandler(func(ctx context.Context, b *tg.Bot, upd *models.Update) {
		dispatcher.HandleUpdate(ctx, b, upd)
	}))
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv, serveErr, err := startCallbackServer(cfg.Addr(), server.New(store, keys, server.WithNotifier(handler.NewNotifier(b))).Routes(), cancel)
	if err != nil {
		return err
	}

	log.Info().Str("store", cfg.StoreBackend).Str("onboarding", cfg.OnboardingMode).Bool("encrypted_links", cfg.PhantomEncryption).Msg("bot started")
	b.Start(ctx)

	log.Info().Msg("shutting down")
	closeErr := srv.Close()
	if err := <-serveErr; err != nil {
		return fmt.Errorf("callback server: %w", err)
	}
	return closeErr
}

// startCallbackServer binds addr before returning so a busy port fails startup.
func startCallbackServer(addr string, h http.Handler, stop context.CancelFunc) (*http.Server, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, serve(srv, ln, stop), nil
}

// serve runs srv on ln. If serving stops for any reason other than Close, stop
// is called. The returned channel receives exactly once.
func serve(srv *http.Server, ln net.Listener, stop context.CancelFunc) <-chan error {
	done := make(chan error, 1)
	go func() {
		logging.Log.Info().Str("addr", ln.Addr().String()).Msg("callback server listening")
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logging.Log.Error().Err(err).Msg("callback server stopped")
			stop()
		}
		done <- err
	}()
	return done
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		s, err := storage.OpenMongo(openCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("storage init: %w", err)
		}
		return s, nil
	case config.BackendBolt:
		s, err := storage.OpenBolt(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("storage init: %w", err)
		}
		return s, nil
	default:
		return storage.NewMemory(), nil
	}
}
