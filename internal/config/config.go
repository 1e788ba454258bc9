package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Store backends.
const (
	BackendMongo  = "mongo"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Onboarding modes for /start.
const (
	OnboardingLink     = "link"
	OnboardingGenerate = "generate"
)

// Config contains all configuration parameters for the application.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`

	StoreBackend  string `envconfig:"STORE_BACKEND" default:"mongo"`
	MongoURI      string `envconfig:"MONGO_URI"`
	MongoDatabase string `envconfig:"MONGO_DATABASE" default:"phantom_wallet_bot"`
	BoltPath      string `envconfig:"BOLT_PATH" default:"bot.db"`

	Port      string   `envconfig:"PORT" default:"3000"`
	PublicURL string   `envconfig:"PUBLIC_URL" required:"true"`
	AdminIDs  []string `envconfig:"ADMIN_IDS"`

	PhantomHost       string `envconfig:"PHANTOM_HOST" default:"phantom.app"`
	PhantomEncryption bool   `envconfig:"PHANTOM_ENCRYPTION" default:"true"`
	SolanaCluster     string `envconfig:"SOLANA_CLUSTER" default:"mainnet-beta"`
	SolanaRPCURL      string `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`

	OnboardingMode  string `envconfig:"ONBOARDING_MODE" default:"link"`
	WalletMasterKey string `envconfig:"WALLET_MASTER_KEY"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is normal in deployed environments
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store backend")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required for the bolt store backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.OnboardingMode {
	case OnboardingLink:
	case OnboardingGenerate:
		if c.WalletMasterKey == "" {
			return errors.New("WALLET_MASTER_KEY is required when ONBOARDING_MODE=generate")
		}
	default:
		return fmt.Errorf("unknown ONBOARDING_MODE %q", c.OnboardingMode)
	}

	if !strings.HasPrefix(c.PublicURL, "http://") && !strings.HasPrefix(c.PublicURL, "https://") {
		return fmt.Errorf("PUBLIC_URL must be an absolute http(s) URL, got %q", c.PublicURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// AdminSet parses ADMIN_IDS into a lookup set. Invalid entries are logged and skipped.
func (c *Config) AdminSet(log *zerolog.Logger) map[int64]bool {
	admins := make(map[int64]bool)
	for _, p := range c.AdminIDs {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if log != nil {
				log.Warn().Str("user_id", s).Msg("invalid user id in ADMIN_IDS")
			}
			continue
		}
		admins[id] = true
	}
	return admins
}
