package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"phantom-wallet-bot/internal/client"
	"phantom-wallet-bot/internal/crypt"
	"phantom-wallet-bot/internal/logging"
	"phantom-wallet-bot/internal/phantom"
	"phantom-wallet-bot/internal/storage"
)

// Page texts shown in the user's browser after the wallet redirect.
const (
	MsgConnected      = "Wallet connected successfully! Return to Telegram and use /balance."
	MsgMissingParams  = "Missing wallet data or Telegram ID."
	MsgNoPublicKey    = "No public key returned from Phantom."
	MsgDecryptFailed  = "Could not decrypt wallet data. Try connecting again."
	MsgInvalidAddress = "Invalid wallet address returned from Phantom."
	MsgFailed         = "Wallet connection failed. Try again."
	msgProviderPrefix = "Phantom Error: "
)

// Notifier tells the chat user their wallet was linked.
type Notifier interface {
	WalletLinked(ctx context.Context, chatUserID, address string)
}

// Server serves the wallet provider redirect.
type Server struct {
	store    storage.Store
	keys     *crypt.Keypair
	validate func(string) error
	notifier Notifier
}

// Option customizes a Server.
type Option func(*Server)

// WithAddressValidator replaces the Solana address check.
func WithAddressValidator(fn func(string) error) Option {
	return func(s *Server) { s.validate = fn }
}

// WithNotifier sends a chat message after each successful link.
func WithNotifier(n Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// New builds the callback server.
func New(store storage.Store, keys *crypt.Keypair, opts ...Option) *Server {
	s := &Server{
		store:    store,
		keys:     keys,
		validate: client.ValidateAddress,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes sets up the router with handlers.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(traceLogger)

	r.Get(phantom.CallbackPath, s.WalletConnected)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, "ok")
	})
	return r
}

// WalletConnected handles GET /wallet-connected. Every outcome is a 200 with a
// human-readable message, since the caller is a browser.
func (s *Server) WalletConnected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cb := phantom.ParseCallback(r.URL.Query())
	log := logging.Ctx(ctx).With().Str("variant", phantom.Variant(cb)).Logger()

	var secret *[crypt.KeySize]byte
	if s.keys != nil {
		secret = s.keys.Secret
	}
	linked, err := cb.Decode(secret)
	if err != nil {
		log.Warn().Err(err).Str("event", "callback_rejected").Msg("wallet callback rejected")
		writeText(w, rejection(err))
		return
	}

	log = log.With().Str("chat_user_id", linked.ChatUserID).Logger()
	if s.validate != nil {
		if err := s.validate(linked.Address); err != nil {
			log.Warn().Err(err).Str("event", "callback_rejected").Str("address", linked.Address).Msg("invalid wallet address")
			writeText(w, MsgInvalidAddress)
			return
		}
	}

	if _, err := s.store.UpsertByChatID(ctx, linked.ChatUserID, storage.LinkWallet(linked.Address)); err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("wallet link upsert failed")
		writeText(w, MsgFailed)
		return
	}
	log.Info().Str("event", "wallet_linked").Str("address", linked.Address).Msg("wallet linked")

	if s.notifier != nil {
		s.notifier.WalletLinked(ctx, linked.ChatUserID, linked.Address)
	}
	writeText(w, MsgConnected)
}

func rejection(err error) string {
	var pe *phantom.ProviderError
	switch {
	case errors.As(err, &pe):
		return msgProviderPrefix + pe.Message
	case errors.Is(err, phantom.ErrMissingParams):
		return MsgMissingParams
	case errors.Is(err, crypt.ErrDecrypt):
		return MsgDecryptFailed
	case errors.Is(err, phantom.ErrNoPublicKey):
		return MsgNoPublicKey
	default:
		return MsgFailed
	}
}

func writeText(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(msg))
}

func traceLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.Context(r.Context())
		logging.Ctx(ctx).Debug().Str("event", "http_request").Str("path", r.URL.Path).Msg("incoming request")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
