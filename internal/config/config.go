package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"

	GroqBaseURL   = "https://api.groq.com/openai/v1"
	GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

	DefaultModel           = "llama-3.3-70b-versatile"
	DefaultGeminiModel     = "gemini-2.0-flash"
	DefaultVisionModel     = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultTranscribeModel = "whisper-large-v3"
	DefaultMaxTokens       = 1024
	DefaultTemperature     = 0.7

	DefaultBotName            = "安尼亞"
	DefaultCooldownSeconds    = 30
	DefaultNewsTime           = "09:00"
	DefaultReminderTime       = "08:00"
	DefaultReminderWindowDays = 7
	DefaultPriceCheckInterval = "30m"
	DefaultFetchTimeoutSec    = 10
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 10000
	DefaultBufSize            = 100

	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// DefaultTriggerWords must appear in a group message before the bot answers.
var DefaultTriggerWords = []string{"安尼亞", "Yuki", "yuki"}

type Config struct {
	Bot          BotConfig          `json:"bot"`
	Channels     ChannelsConfig     `json:"channels"`
	Provider     ProviderConfig     `json:"provider"`
	Memory       MemoryConfig       `json:"memory"`
	News         NewsConfig         `json:"news"`
	Schedule     ScheduleConfig     `json:"schedule"`
	PriceWatches []PriceWatchConfig `json:"priceWatches,omitempty"`
	Gateway      GatewayConfig      `json:"gateway"`
}

type BotConfig struct {
	Name            string   `json:"name"`
	TriggerWords    []string `json:"triggerWords"`
	CooldownSeconds int      `json:"cooldownSeconds"`
	OwnerChatID     string   `json:"ownerChatId,omitempty"`
	Timezone        string   `json:"timezone,omitempty"`
	PersonaPath     string   `json:"personaPath,omitempty"`
}

type ProviderConfig struct {
	Type            string   `json:"type,omitempty"` // "groq" (default) or "gemini"
	APIKey          string   `json:"apiKey"`
	BaseURL         string   `json:"baseUrl,omitempty"`
	Models          []string `json:"models,omitempty"` // priority order
	VisionModel     string   `json:"visionModel,omitempty"`
	TranscribeModel string   `json:"transcribeModel,omitempty"`
	MaxTokens       int      `json:"maxTokens"`
	Temperature     float64  `json:"temperature"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type MemoryConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	DBPath string `json:"dbPath,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

type NewsConfig struct {
	Enabled         bool         `json:"enabled"`
	APIKey          string       `json:"apiKey,omitempty"`
	Feeds           []FeedConfig `json:"feeds,omitempty"`
	ItemsPerSection int          `json:"itemsPerSection"`
	TimeoutSec      int          `json:"timeoutSec"`
}

type FeedConfig struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

type ScheduleConfig struct {
	NewsTime           string `json:"newsTime"`
	ReminderTime       string `json:"reminderTime"`
	ReminderWindowDays int    `json:"reminderWindowDays"`
	PriceCheckInterval string `json:"priceCheckInterval"`
}

type PriceWatchConfig struct {
	Name     string  `json:"name"`
	URL      string  `json:"url"`
	Selector string  `json:"selector"`
	Target   float64 `json:"target"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func defaultFeeds() []FeedConfig {
	return []FeedConfig{
		{Label: "國際新聞", URL: "https://feeds.bbci.co.uk/news/world/rss.xml"},
		{Label: "科技新聞", URL: "https://feeds.bbci.co.uk/news/technology/rss.xml"},
		{Label: "加拿大新聞", URL: "https://www.cbc.ca/webfeed/rss/rss-canada"},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Name:            DefaultBotName,
			TriggerWords:    append([]string(nil), DefaultTriggerWords...),
			CooldownSeconds: DefaultCooldownSeconds,
		},
		Provider: ProviderConfig{
			// Models are left to applyDefaults, which picks them from the
			// final provider type.
			Type:        ProviderGroq,
			MaxTokens:   DefaultMaxTokens,
			Temperature: DefaultTemperature,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{Enabled: true},
		},
		Memory: MemoryConfig{
			Driver: StoreSQLite,
		},
		News: NewsConfig{
			Enabled:         true,
			Feeds:           defaultFeeds(),
			ItemsPerSection: 5,
			TimeoutSec:      DefaultFetchTimeoutSec,
		},
		Schedule: ScheduleConfig{
			NewsTime:           DefaultNewsTime,
			ReminderTime:       DefaultReminderTime,
			ReminderWindowDays: DefaultReminderWindowDays,
			PriceCheckInterval: DefaultPriceCheckInterval,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("YUKI_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".yuki")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// LoadDotEnv reads .env files from the working directory without overriding
// variables that are already set.
func LoadDotEnv() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if p := strings.ToLower(strings.TrimSpace(os.Getenv("YUKI_PROVIDER"))); p != "" {
		cfg.Provider.Type = p
	}
	if key := os.Getenv("GROQ_API_KEY"); key != "" && providerType(cfg) == ProviderGroq {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if cfg.Provider.APIKey == "" || providerType(cfg) == ProviderGemini {
			cfg.Provider.APIKey = key
			if os.Getenv("GROQ_API_KEY") == "" && os.Getenv("YUKI_PROVIDER") == "" {
				cfg.Provider.Type = ProviderGemini
			}
		}
	}
	if url := os.Getenv("YUKI_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if models := os.Getenv("YUKI_MODELS"); models != "" {
		cfg.Provider.Models = splitList(models)
	}
	if id := os.Getenv("OWNER_CHAT_ID"); id != "" {
		cfg.Bot.OwnerChatID = id
	}
	if tz := os.Getenv("YUKI_TIMEZONE"); tz != "" {
		cfg.Bot.Timezone = tz
	}
	if key := os.Getenv("NEWS_API_KEY"); key != "" {
		cfg.News.APIKey = key
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Memory.DSN = dsn
		cfg.Memory.Driver = StorePostgres
	}
	if dbPath := os.Getenv("YUKI_DB_PATH"); dbPath != "" {
		cfg.Memory.DBPath = dbPath
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Bot.Name == "" {
		cfg.Bot.Name = DefaultBotName
	}
	if len(cfg.Bot.TriggerWords) == 0 {
		cfg.Bot.TriggerWords = append([]string(nil), DefaultTriggerWords...)
	}
	if cfg.Bot.CooldownSeconds <= 0 {
		cfg.Bot.CooldownSeconds = DefaultCooldownSeconds
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = ProviderGroq
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = DefaultBaseURL(cfg.Provider.Type)
	}
	if len(cfg.Provider.Models) == 0 {
		if cfg.Provider.Type == ProviderGemini {
			cfg.Provider.Models = []string{DefaultGeminiModel}
		} else {
			cfg.Provider.Models = []string{DefaultModel}
		}
	}
	if cfg.Provider.VisionModel == "" {
		if cfg.Provider.Type == ProviderGemini {
			cfg.Provider.VisionModel = DefaultGeminiModel
		} else {
			cfg.Provider.VisionModel = DefaultVisionModel
		}
	}
	if cfg.Provider.TranscribeModel == "" {
		cfg.Provider.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = DefaultMaxTokens
	}
	if cfg.Memory.Driver == "" {
		cfg.Memory.Driver = StoreSQLite
	}
	if cfg.Memory.DBPath == "" {
		cfg.Memory.DBPath = filepath.Join(ConfigDir(), "data", "yuki.db")
	}
	if len(cfg.News.Feeds) == 0 {
		cfg.News.Feeds = defaultFeeds()
	}
	if cfg.News.ItemsPerSection <= 0 {
		cfg.News.ItemsPerSection = 5
	}
	if cfg.News.TimeoutSec <= 0 {
		cfg.News.TimeoutSec = DefaultFetchTimeoutSec
	}
	if cfg.Schedule.NewsTime == "" {
		cfg.Schedule.NewsTime = DefaultNewsTime
	}
	if cfg.Schedule.ReminderTime == "" {
		cfg.Schedule.ReminderTime = DefaultReminderTime
	}
	if cfg.Schedule.ReminderWindowDays <= 0 {
		cfg.Schedule.ReminderWindowDays = DefaultReminderWindowDays
	}
	if cfg.Schedule.PriceCheckInterval == "" {
		cfg.Schedule.PriceCheckInterval = DefaultPriceCheckInterval
	}
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = DefaultHost
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = DefaultPort
	}
}

func providerType(cfg *Config) string {
	if cfg.Provider.Type == "" {
		return ProviderGroq
	}
	return cfg.Provider.Type
}

// DefaultBaseURL maps a provider name to its OpenAI-compatible endpoint.
func DefaultBaseURL(provider string) string {
	if provider == ProviderGemini {
		return GeminiBaseURL
	}
	return GroqBaseURL
}

// SelectModel picks the first model from priority that the provider reports
// as available. With no overlap it falls back to the first priority entry,
// and with an empty priority list to DefaultModel.
func SelectModel(priority, available []string) string {
	have := make(map[string]struct{}, len(available))
	for _, m := range available {
		have[strings.TrimPrefix(m, "models/")] = struct{}{}
	}
	for _, m := range priority {
		if _, ok := have[m]; ok {
			return m
		}
	}
	for _, m := range priority {
		if strings.TrimSpace(m) != "" {
			return m
		}
	}
	return DefaultModel
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
