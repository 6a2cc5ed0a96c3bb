package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken               string
	MySQLDSN               string
	PrivateDailyLimit      int
	GroupDailyLimit        int
	AdminIDs               []int64
	ProviderOrder          []string
	ProviderAttemptTimeout time.Duration
	KIEAPIKey              string
	KIEBaseURL             string
	KIEModel               string
	CFAccountID            string
	CFAPIToken             string
	CFModel                string
	PollinationsBaseURL    string
	AdminListenAddr        string
	AdminUsername          string
	AdminPassword          string
	S3Endpoint             string
	S3Region               string
	S3AccessKey            string
	S3SecretKey            string
	S3Bucket               string
	S3PublicBaseURL        string
	S3UsePathStyle         bool
	S3Prefix               string
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		PrivateDailyLimit:      getInt("PRIVATE_DAILY_LIMIT", 3),
		GroupDailyLimit:        getInt("GROUP_DAILY_LIMIT", 30),
		AdminIDs:               parseAdminIDs(os.Getenv("ADMIN_IDS")),
		ProviderOrder:          parseProviderOrder(getEnv("PROVIDER_ORDER", "kie,cloudflare,pollinations")),
		ProviderAttemptTimeout: time.Second * time.Duration(getInt("PROVIDER_ATTEMPT_TIMEOUT_SECONDS", 120)),
		KIEBaseURL:             normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:               getEnv("KIE_MODEL", "nano-banana-pro"),
		CFAccountID:            os.Getenv("CF_ACCOUNT_ID"),
		CFAPIToken:             os.Getenv("CF_API_TOKEN"),
		CFModel:                getEnv("CF_MODEL", "@cf/black-forest-labs/flux-1-schnell"),
		PollinationsBaseURL:    getEnv("POLLINATIONS_BASE_URL", "https://image.pollinations.ai"),
		AdminListenAddr:        getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:          getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:             getEnv("S3_ENDPOINT", ""),
		S3Region:               os.Getenv("S3_REGION"),
		S3AccessKey:            os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:            os.Getenv("S3_SECRET_KEY"),
		S3Bucket:               os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:        os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:         getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:               getEnv("S3_PREFIX", "references"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.KIEAPIKey = os.Getenv("KIE_API_KEY")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	for _, name := range cfg.ProviderOrder {
		switch name {
		case "kie":
			if cfg.KIEAPIKey == "" {
				missing = append(missing, "KIE_API_KEY")
			}
		case "cloudflare":
			if cfg.CFAccountID == "" {
				missing = append(missing, "CF_ACCOUNT_ID")
			}
			if cfg.CFAPIToken == "" {
				missing = append(missing, "CF_API_TOKEN")
			}
		}
	}
	if cfg.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if cfg.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if cfg.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if cfg.S3PublicBaseURL == "" {
		missing = append(missing, "S3_PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if len(cfg.ProviderOrder) == 0 {
		return Config{}, fmt.Errorf("PROVIDER_ORDER must name at least one provider")
	}

	return cfg, nil
}

// IsAdmin reports whether the Telegram user belongs to the administrator set.
func (c Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

func parseAdminIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func parseProviderOrder(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		names = append(names, part)
	}
	return names
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	// Force API subdomain to avoid landing on the marketing site.
	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// No env file is fine when the variables are already exported.
	return nil
}
