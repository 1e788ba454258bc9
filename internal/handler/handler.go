package handler

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"phantom-wallet-bot/internal/client"
	"phantom-wallet-bot/internal/config"
	"phantom-wallet-bot/internal/crypt"
	"phantom-wallet-bot/internal/logging"
	"phantom-wallet-bot/internal/phantom"
	"phantom-wallet-bot/internal/storage"
)

// Telegram rejects longer messages.
const maxMessageLength = 4096

const callbackPrefix = "cmd:"

// Messenger is the subset of *tg.Bot used by the handler.
type Messenger interface {
	SendMessage(ctx context.Context, params *tg.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *tg.SendPhotoParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *tg.AnswerCallbackQueryParams) (bool, error)
}

// Chain is the blockchain lookup surface used by balance and history.
type Chain interface {
	Balance(ctx context.Context, address string) (uint64, error)
	RecentSignatures(ctx context.Context, address string, limit int) ([]client.Signature, error)
}

// Deps holds the collaborators of a Dispatcher.
type Deps struct {
	Store      storage.Store
	Chain      Chain
	Links      phantom.LinkBuilder
	Admins     map[int64]bool
	Onboarding string
	// Vault and NewWallet are only used in generate onboarding mode.
	Vault     *crypt.Vault
	NewWallet func() (address, secret string)
}

// Dispatcher routes chat updates to command handlers.
type Dispatcher struct {
	store      storage.Store
	chain      Chain
	links      phantom.LinkBuilder
	admins     map[int64]bool
	onboarding string
	vault      *crypt.Vault
	newWallet  func() (string, string)
	handlers   map[Command]commandFunc
}

// New builds a Dispatcher.
func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		store:      deps.Store,
		chain:      deps.Chain,
		links:      deps.Links,
		admins:     deps.Admins,
		onboarding: deps.Onboarding,
		vault:      deps.Vault,
		newWallet:  deps.NewWallet,
	}
	if d.onboarding == "" {
		d.onboarding = config.OnboardingLink
	}
	if d.newWallet == nil {
		d.newWallet = client.GenerateWallet
	}
	if d.admins == nil {
		d.admins = map[int64]bool{}
	}
	d.handlers = d.commands()
	return d
}

// Run executes cmd for the caller. Unknown commands get the help text.
func (d *Dispatcher) Run(ctx context.Context, cmd Command, c Caller, args string) Reply {
	h, ok := d.handlers[cmd]
	if !ok {
		h = d.help
	}
	return h(ctx, c, args)
}

// HandleUpdate processes a Telegram update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, b Messenger, upd *models.Update) {
	ctx = logging.Context(ctx)

	if cq := upd.CallbackQuery; cq != nil {
		ctx = logging.WithUser(ctx, strconv.FormatInt(cq.From.ID, 10))
		b.AnswerCallbackQuery(ctx, &tg.AnswerCallbackQueryParams{CallbackQueryID: cq.ID})
		if !strings.HasPrefix(cq.Data, callbackPrefix) {
			return
		}
		chatID := cq.From.ID
		if cq.Message.Message != nil {
			chatID = cq.Message.Message.Chat.ID
		}
		cmd := Command(strings.TrimPrefix(cq.Data, callbackPrefix))
		logging.Ctx(ctx).Info().Str("event", "telegram_callback").Str("command", string(cmd)).Msg("inline command")
		d.send(ctx, b, chatID, d.Run(ctx, cmd, Caller{UserID: cq.From.ID, ChatID: chatID}, ""))
		return
	}

	if upd.Message == nil || upd.Message.From == nil {
		return
	}
	msg := upd.Message
	chatID := msg.Chat.ID
	ctx = logging.WithUser(ctx, strconv.FormatInt(msg.From.ID, 10))
	log := logging.Ctx(ctx)
	log.Info().Str("event", "telegram_request").Int64("chat_id", chatID).Str("snippet", logging.Snippet(msg.Text, 30)).Msg("incoming message")

	cmd, args, ok := parseCommand(msg)
	if !ok {
		return
	}
	d.send(ctx, b, chatID, d.Run(ctx, cmd, Caller{UserID: msg.From.ID, ChatID: chatID}, args))
}

func (d *Dispatcher) send(ctx context.Context, b Messenger, chatID int64, r Reply) {
	log := logging.Ctx(ctx)
	markup := replyMarkup(r)

	if len(r.QR) > 0 {
		params := &tg.SendPhotoParams{
			ChatID:  chatID,
			Photo:   &models.InputFileUpload{Filename: "connect.png", Data: bytes.NewReader(r.QR)},
			Caption: r.Text,
		}
		if markup != nil {
			params.ReplyMarkup = markup
		}
		_, err := b.SendPhoto(ctx, params)
		if err == nil {
			return
		}
		log.Warn().Err(err).Msg("send photo failed, falling back to text")
	}

	parts := splitMessage(r.Text, maxMessageLength)
	for i, part := range parts {
		params := &tg.SendMessageParams{ChatID: chatID, Text: part}
		if i == len(parts)-1 && markup != nil {
			params.ReplyMarkup = markup
		}
		if _, err := b.SendMessage(ctx, params); err != nil {
			log.Error().Err(err).Msg("send message failed")
			return
		}
	}
}

func replyMarkup(r Reply) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton
	if r.Button != nil {
		rows = append(rows, []models.InlineKeyboardButton{{Text: r.Button.Text, URL: r.Button.URL}})
	}
	for _, row := range r.Keyboard {
		buttons := make([]models.InlineKeyboardButton, len(row))
		for i, btn := range row {
			buttons[i] = models.InlineKeyboardButton{Text: btn.Text, CallbackData: callbackPrefix + string(btn.Command)}
		}
		rows = append(rows, buttons)
	}
	if len(rows) == 0 {
		return nil
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func parseCommand(msg *models.Message) (cmd Command, args string, ok bool) {
	if msg.Text == "" {
		return "", "", false
	}
	for _, e := range msg.Entities {
		if e.Type == models.MessageEntityTypeBotCommand && e.Offset == 0 && e.Length <= len(msg.Text) {
			name := strings.TrimPrefix(msg.Text[:e.Length], "/")
			// "/balance@SomeBot" in group chats
			if i := strings.IndexByte(name, '@'); i >= 0 {
				name = name[:i]
			}
			args = strings.TrimSpace(msg.Text[e.Length:])
			return Command(strings.ToLower(name)), args, true
		}
	}
	return "", "", false
}

// splitMessage cuts text into non-empty chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		if part := strings.TrimRight(string(runes[:cut]), "\n"); part != "" {
			parts = append(parts, part)
		}
		runes = runes[cut:]
	}
	if strings.TrimSpace(string(runes)) != "" {
		parts = append(parts, string(runes))
	}
	return parts
}

// Notifier messages a user after their wallet is linked through the browser flow.
type Notifier struct {
	b Messenger
}

// NewNotifier returns a Notifier sending through b.
func NewNotifier(b Messenger) *Notifier {
	return &Notifier{b: b}
}

// WalletLinked sends the confirmation. Private chat ids equal user ids.
func (n *Notifier) WalletLinked(ctx context.Context, chatUserID, address string) {
	log := logging.Ctx(ctx)
	chatID, err := strconv.ParseInt(chatUserID, 10, 64)
	if err != nil {
		log.Warn().Str("chat_user_id", chatUserID).Msg("cannot notify non-numeric chat user id")
		return
	}
	text := fmt.Sprintf("Wallet %s connected. Use /balance to check it.", address)
	if _, err := n.b.SendMessage(ctx, &tg.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.Warn().Err(err).Msg("wallet linked notification failed")
	}
}
