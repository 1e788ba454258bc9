package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"phantom-wallet-bot/internal/client"
	"phantom-wallet-bot/internal/config"
	"phantom-wallet-bot/internal/logging"
	"phantom-wallet-bot/internal/storage"
)

// Command is one of the chat commands the bot understands.
type Command string

const (
	CmdStart      Command = "start"
	CmdConnect    Command = "connect"
	CmdBalance    Command = "balance"
	CmdDisconnect Command = "disconnect"
	CmdNameWallet Command = "namewallet"
	CmdHistory    Command = "history"
	CmdAdminUsers Command = "adminusers"
	CmdHelp       Command = "help"
)

const historyLimit = 5

const (
	msgWelcome         = "Welcome! Use /connect to link your Phantom Wallet."
	msgConnect         = "🔐 Click below to connect your Phantom Wallet:"
	msgNotConnected    = "Wallet not connected. Use /connect first."
	msgBalance         = "Your wallet balance is %s SOL"
	msgBalanceFailed   = "Could not fetch balance. Try again."
	msgDisconnected    = "Wallet disconnected."
	msgNothingToDrop   = "No wallet to disconnect."
	msgNameUsage       = "Usage: /namewallet <name>"
	msgRenamed         = "Wallet renamed to %q."
	msgNoTransactions  = "No transactions found."
	msgHistoryFailed   = "Could not fetch transactions. Try again."
	msgNotAuthorized   = "Not authorized."
	msgNoUsers         = "No users yet."
	msgFailed          = "Something went wrong. Try again."
	msgWalletGenerated = "Welcome! A new wallet was created for you.\nAddress: %s"
	msgWalletExisting  = "Welcome back! Your wallet address: %s"
)

const helpText = `Available commands:
/start - get started
/connect - link your Phantom Wallet
/balance - show your SOL balance
/history - show your last 5 transactions
/namewallet <name> - name your wallet
/disconnect - unlink your wallet
/help - show this message`

// Caller identifies who sent a command and where to reply.
type Caller struct {
	UserID int64
	ChatID int64
}

// ChatUserID is the store key for the caller.
func (c Caller) ChatUserID() string {
	return strconv.FormatInt(c.UserID, 10)
}

// URLButton opens a link.
type URLButton struct {
	Text string
	URL  string
}

// CallbackButton runs another command when pressed.
type CallbackButton struct {
	Text    string
	Command Command
}

// Reply is what a command produces. QR, when set, is sent as a photo with Text
// as its caption.
type Reply struct {
	Text     string
	Button   *URLButton
	Keyboard [][]CallbackButton
	QR       []byte
}

type commandFunc func(ctx context.Context, c Caller, args string) Reply

func (d *Dispatcher) commands() map[Command]commandFunc {
	return map[Command]commandFunc{
		CmdStart:      d.start,
		CmdConnect:    d.connect,
		CmdBalance:    d.balance,
		CmdDisconnect: d.disconnect,
		CmdNameWallet: d.nameWallet,
		CmdHistory:    d.history,
		CmdAdminUsers: d.adminUsers,
		CmdHelp:       d.help,
	}
}

var startKeyboard = [][]CallbackButton{
	{{Text: "Connect Wallet", Command: CmdConnect}},
	{{Text: "Balance", Command: CmdBalance}, {Text: "History", Command: CmdHistory}},
}

func (d *Dispatcher) start(ctx context.Context, c Caller, _ string) Reply {
	if d.onboarding == config.OnboardingGenerate {
		return d.startGenerated(ctx, c)
	}
	log := logging.Ctx(ctx)
	if _, err := d.store.FindByChatID(ctx, c.ChatUserID()); errors.Is(err, storage.ErrNotFound) {
		if _, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.Fields{}); err != nil {
			log.Error().Err(err).Str("event", "store_error").Msg("create user failed")
		}
	} else if err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("find user failed")
	}
	return Reply{Text: msgWelcome, Keyboard: startKeyboard}
}

func (d *Dispatcher) startGenerated(ctx context.Context, c Caller) Reply {
	log := logging.Ctx(ctx)
	u, err := d.store.FindByChatID(ctx, c.ChatUserID())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Str("event", "store_error").Msg("find user failed")
		return Reply{Text: msgFailed}
	}
	if u != nil && (u.EncryptedSecret != "" || u.HasWallet()) {
		return d.welcomeBack(ctx, c, u)
	}

	address, secret := d.newWallet()
	sealed, err := d.vault.Encrypt(secret)
	if err != nil {
		log.Error().Err(err).Msg("seal wallet secret failed")
		return Reply{Text: msgFailed}
	}
	saved, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.AdoptGenerated(address, sealed))
	if err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("save generated wallet failed")
		return Reply{Text: msgFailed}
	}
	if saved.EncryptedSecret != sealed {
		// a concurrent /start stored its wallet first
		return d.welcomeBack(ctx, c, saved)
	}
	log.Info().Str("event", "wallet_generated").Str("address", address).Msg("wallet generated")
	return Reply{Text: fmt.Sprintf(msgWalletGenerated, address), Keyboard: startKeyboard[1:]}
}

// welcomeBack shows the caller's wallet. A generated wallet that was
// disconnected is relinked from its sealed secret.
func (d *Dispatcher) welcomeBack(ctx context.Context, c Caller, u *storage.User) Reply {
	if u.HasWallet() {
		return Reply{Text: fmt.Sprintf(msgWalletExisting, u.Wallet()), Keyboard: startKeyboard[1:]}
	}
	log := logging.Ctx(ctx)
	secret, err := d.vault.Decrypt(u.EncryptedSecret)
	if err != nil {
		log.Error().Err(err).Msg("open wallet secret failed")
		return Reply{Text: msgFailed}
	}
	address, err := client.AddressFromSecret(secret)
	if err != nil {
		log.Error().Err(err).Msg("derive wallet address failed")
		return Reply{Text: msgFailed}
	}
	if _, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.LinkWallet(address)); err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("restore wallet failed")
		return Reply{Text: msgFailed}
	}
	log.Info().Str("event", "wallet_restored").Str("address", address).Msg("generated wallet relinked")
	return Reply{Text: fmt.Sprintf(msgWalletExisting, address), Keyboard: startKeyboard[1:]}
}

func (d *Dispatcher) connect(ctx context.Context, c Caller, _ string) Reply {
	link := d.links.ConnectURL(c.ChatUserID())
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("qr encode failed")
		png = nil
	}
	return Reply{
		Text:   msgConnect,
		Button: &URLButton{Text: "Connect Wallet", URL: link},
		QR:     png,
	}
}

// linkedWallet returns the caller's address, or a reply to send instead.
func (d *Dispatcher) linkedWallet(ctx context.Context, c Caller) (*storage.User, *Reply) {
	u, err := d.store.FindByChatID(ctx, c.ChatUserID())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, &Reply{Text: msgNotConnected}
	case err != nil:
		logging.Ctx(ctx).Error().Err(err).Str("event", "store_error").Msg("find user failed")
		return nil, &Reply{Text: msgFailed}
	case !u.HasWallet():
		return nil, &Reply{Text: msgNotConnected}
	}
	return u, nil
}

func (d *Dispatcher) balance(ctx context.Context, c Caller, _ string) Reply {
	u, r := d.linkedWallet(ctx, c)
	if r != nil {
		return *r
	}
	lamports, err := d.chain.Balance(ctx, u.Wallet())
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", "rpc_error").Msg("balance lookup failed")
		return Reply{Text: msgBalanceFailed}
	}
	return Reply{Text: fmt.Sprintf(msgBalance, client.LamportsToSOL(lamports))}
}

func (d *Dispatcher) disconnect(ctx context.Context, c Caller, _ string) Reply {
	log := logging.Ctx(ctx)
	u, err := d.store.FindByChatID(ctx, c.ChatUserID())
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !u.HasWallet()) {
		return Reply{Text: msgNothingToDrop}
	}
	if err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("find user failed")
		return Reply{Text: msgFailed}
	}
	if _, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.Disconnect()); err != nil {
		log.Error().Err(err).Str("event", "store_error").Msg("disconnect failed")
		return Reply{Text: msgFailed}
	}
	log.Info().Str("event", "wallet_disconnected").Msg("wallet disconnected")
	return Reply{Text: msgDisconnected}
}

func (d *Dispatcher) nameWallet(ctx context.Context, c Caller, args string) Reply {
	name := strings.TrimSpace(args)
	if name == "" {
		return Reply{Text: msgNameUsage}
	}
	if _, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.Rename(name)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", "store_error").Msg("rename failed")
		return Reply{Text: msgFailed}
	}
	return Reply{Text: fmt.Sprintf(msgRenamed, name)}
}

func (d *Dispatcher) history(ctx context.Context, c Caller, _ string) Reply {
	u, r := d.linkedWallet(ctx, c)
	if r != nil {
		return *r
	}
	log := logging.Ctx(ctx)
	sigs, err := d.chain.RecentSignatures(ctx, u.Wallet(), historyLimit)
	if err != nil {
		log.Error().Err(err).Str("event", "rpc_error").Msg("history lookup failed")
		return Reply{Text: msgHistoryFailed}
	}
	if len(sigs) > historyLimit {
		sigs = sigs[:historyLimit]
	}

	ids := make([]string, len(sigs))
	for i, s := range sigs {
		ids[i] = s.Signature
	}
	if _, err := d.store.UpsertByChatID(ctx, c.ChatUserID(), storage.CacheTransactions(ids)); err != nil {
		log.Warn().Err(err).Str("event", "store_error").Msg("cache transactions failed")
	}
	if len(sigs) == 0 {
		return Reply{Text: msgNoTransactions}
	}

	var sb strings.Builder
	sb.WriteString("Recent transactions:")
	for i, s := range sigs {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, s.Signature)
		if s.Failed {
			sb.WriteString(" (failed)")
		}
	}
	return Reply{Text: sb.String()}
}

func (d *Dispatcher) adminUsers(ctx context.Context, c Caller, _ string) Reply {
	if !d.admins[c.UserID] {
		return Reply{Text: msgNotAuthorized}
	}
	users, err := d.store.ListAll(ctx)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("event", "store_error").Msg("list users failed")
		return Reply{Text: msgFailed}
	}
	if len(users) == 0 {
		return Reply{Text: msgNoUsers}
	}
	lines := make([]string, len(users))
	for i, u := range users {
		wallet, name := u.Wallet(), u.WalletName
		if wallet == "" {
			wallet = "-"
		}
		if name == "" {
			name = "-"
		}
		lines[i] = u.ChatUserID + " | " + wallet + " | " + name
	}
	return Reply{Text: strings.Join(lines, "\n")}
}

func (d *Dispatcher) help(context.Context, Caller, string) Reply {
	return Reply{Text: helpText}
}
