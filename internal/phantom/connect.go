package phantom

import (
	"net/url"
	"strings"
)

// CallbackPath is where Phantom redirects the browser after the user approves.
const CallbackPath = "/wallet-connected"

// LinkBuilder builds Phantom universal connect links.
type LinkBuilder struct {
	Host          string // e.g. phantom.app
	AppURL        string // public base URL of this service
	Cluster       string // mainnet-beta, devnet, testnet; empty omits the parameter
	EncryptionKey string // base58 dapp public key; empty builds a plain-payload link
}

// RedirectURL returns the callback URL carrying the chat user id.
func (b LinkBuilder) RedirectURL(chatUserID string) string {
	q := url.Values{}
	q.Set("telegramId", chatUserID)
	return strings.TrimRight(b.AppURL, "/") + CallbackPath + "?" + q.Encode()
}

// ConnectURL returns the deep link a user opens to connect their wallet.
func (b LinkBuilder) ConnectURL(chatUserID string) string {
	q := url.Values{}
	q.Set("app_url", b.AppURL)
	q.Set("redirect_link", b.RedirectURL(chatUserID))
	if b.Cluster != "" {
		q.Set("cluster", b.Cluster)
	}
	if b.EncryptionKey != "" {
		q.Set("dapp_encryption_public_key", b.EncryptionKey)
	}
	u := url.URL{
		Scheme:   "https",
		Host:     b.Host,
		Path:     "/ul/v1/connect",
		RawQuery: q.Encode(),
	}
	return u.String()
}
