package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// isolateEnv points the config dir at a temp dir and clears every variable
// LoadConfig reads so the host environment cannot leak into a test.
func isolateEnv(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("YUKI_HOME", tmpDir)
	for _, key := range []string{
		"TELEGRAM_BOT_TOKEN", "GROQ_API_KEY", "GEMINI_API_KEY", "YUKI_PROVIDER",
		"YUKI_BASE_URL", "YUKI_MODELS", "OWNER_CHAT_ID", "NEWS_API_KEY",
		"DATABASE_URL", "YUKI_DB_PATH", "YUKI_TIMEZONE", "PORT",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Bot.Name != DefaultBotName {
		t.Errorf("name = %q, want %q", cfg.Bot.Name, DefaultBotName)
	}
	if cfg.Bot.CooldownSeconds != 30 {
		t.Errorf("cooldown = %d, want 30", cfg.Bot.CooldownSeconds)
	}
	if cfg.Provider.Type != ProviderGroq {
		t.Errorf("provider = %q, want groq", cfg.Provider.Type)
	}
	if len(cfg.Provider.Models) != 0 || cfg.Provider.VisionModel != "" {
		t.Errorf("models should be left to the provider defaults, got %v / %q", cfg.Provider.Models, cfg.Provider.VisionModel)
	}
	if cfg.Schedule.NewsTime != "09:00" || cfg.Schedule.ReminderTime != "08:00" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	if cfg.Schedule.ReminderWindowDays != 7 {
		t.Errorf("reminder window = %d, want 7", cfg.Schedule.ReminderWindowDays)
	}
	if cfg.Gateway.Port != 10000 {
		t.Errorf("port = %d, want 10000", cfg.Gateway.Port)
	}
	if len(cfg.News.Feeds) == 0 {
		t.Error("expected default feeds")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	tmpDir := isolateEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.BaseURL != GroqBaseURL {
		t.Errorf("baseURL = %q, want %q", cfg.Provider.BaseURL, GroqBaseURL)
	}
	want := filepath.Join(tmpDir, "data", "yuki.db")
	if cfg.Memory.DBPath != want {
		t.Errorf("dbPath = %q, want %q", cfg.Memory.DBPath, want)
	}
	if cfg.Memory.Driver != StoreSQLite {
		t.Errorf("driver = %q, want sqlite", cfg.Memory.Driver)
	}
	if len(cfg.Provider.Models) != 1 || cfg.Provider.Models[0] != DefaultModel {
		t.Errorf("models = %v, want [%s]", cfg.Provider.Models, DefaultModel)
	}
	if cfg.Provider.VisionModel != DefaultVisionModel {
		t.Errorf("vision = %q, want %q", cfg.Provider.VisionModel, DefaultVisionModel)
	}
	if cfg.Provider.TranscribeModel != DefaultTranscribeModel {
		t.Errorf("transcribe = %q, want %q", cfg.Provider.TranscribeModel, DefaultTranscribeModel)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("YUKI_MODELS", "llama-3.3-70b-versatile, llama-3.1-8b-instant")
	t.Setenv("OWNER_CHAT_ID", "12345")
	t.Setenv("NEWS_API_KEY", "news-key")
	t.Setenv("YUKI_TIMEZONE", "America/Edmonton")
	t.Setenv("PORT", "8080")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Channels.Telegram.Token != "tg-token" {
		t.Errorf("token = %q", cfg.Channels.Telegram.Token)
	}
	if cfg.Provider.APIKey != "groq-key" {
		t.Errorf("apiKey = %q", cfg.Provider.APIKey)
	}
	if len(cfg.Provider.Models) != 2 || cfg.Provider.Models[1] != "llama-3.1-8b-instant" {
		t.Errorf("models = %v", cfg.Provider.Models)
	}
	if cfg.Bot.OwnerChatID != "12345" {
		t.Errorf("owner = %q", cfg.Bot.OwnerChatID)
	}
	if cfg.News.APIKey != "news-key" {
		t.Errorf("news key = %q", cfg.News.APIKey)
	}
	if cfg.Bot.Timezone != "America/Edmonton" {
		t.Errorf("timezone = %q", cfg.Bot.Timezone)
	}
	if cfg.Gateway.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Gateway.Port)
	}
}

func TestLoadConfig_GeminiOnly(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Type != ProviderGemini {
		t.Errorf("provider = %q, want gemini", cfg.Provider.Type)
	}
	if cfg.Provider.APIKey != "gem-key" {
		t.Errorf("apiKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.BaseURL != GeminiBaseURL {
		t.Errorf("baseURL = %q", cfg.Provider.BaseURL)
	}
	if len(cfg.Provider.Models) != 1 || cfg.Provider.Models[0] != DefaultGeminiModel {
		t.Errorf("models = %v, want [%s]", cfg.Provider.Models, DefaultGeminiModel)
	}
	if cfg.Provider.VisionModel != DefaultGeminiModel {
		t.Errorf("vision = %q, want %q", cfg.Provider.VisionModel, DefaultGeminiModel)
	}
	listed := []string{"models/gemini-1.5-pro", "models/gemini-2.0-flash"}
	if got := SelectModel(cfg.Provider.Models, listed); got != DefaultGeminiModel {
		t.Errorf("SelectModel = %q, want %q", got, DefaultGeminiModel)
	}
}

func TestLoadConfig_ProviderEnvOverFileDefaults(t *testing.T) {
	tmpDir := isolateEnv(t)
	t.Setenv("YUKI_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	// onboard writes DefaultConfig, so the file carries a groq type.
	data, _ := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Type != ProviderGemini {
		t.Errorf("provider = %q, want gemini", cfg.Provider.Type)
	}
	if len(cfg.Provider.Models) != 1 || cfg.Provider.Models[0] != DefaultGeminiModel {
		t.Errorf("models = %v, want [%s]", cfg.Provider.Models, DefaultGeminiModel)
	}
	if cfg.Provider.VisionModel != DefaultGeminiModel {
		t.Errorf("vision = %q", cfg.Provider.VisionModel)
	}
}

func TestLoadConfig_GroqWinsOverGemini(t *testing.T) {
	isolateEnv(t)
	t.Setenv("GROQ_API_KEY", "groq-key")
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Type != ProviderGroq || cfg.Provider.APIKey != "groq-key" {
		t.Errorf("provider = %q key = %q", cfg.Provider.Type, cfg.Provider.APIKey)
	}
}

func TestLoadConfig_DatabaseURL(t *testing.T) {
	isolateEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/yuki?sslmode=disable")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Memory.Driver != StorePostgres {
		t.Errorf("driver = %q, want postgres", cfg.Memory.Driver)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpDir := isolateEnv(t)

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "test-key"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "config.json"))
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal saved config: %v", err)
	}
	if loaded.Provider.APIKey != "test-key" {
		t.Errorf("saved apiKey = %q, want test-key", loaded.Provider.APIKey)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := isolateEnv(t)

	fileCfg := map[string]any{
		"bot": map[string]any{
			"triggerWords":    []string{"小雪"},
			"cooldownSeconds": 10,
		},
		"priceWatches": []map[string]any{
			{"name": "switch", "url": "https://example.com/p", "selector": ".price", "target": 299.0},
		},
	}
	data, _ := json.MarshalIndent(fileCfg, "", "  ")
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if len(cfg.Bot.TriggerWords) != 1 || cfg.Bot.TriggerWords[0] != "小雪" {
		t.Errorf("triggers = %v", cfg.Bot.TriggerWords)
	}
	if cfg.Bot.CooldownSeconds != 10 {
		t.Errorf("cooldown = %d", cfg.Bot.CooldownSeconds)
	}
	if len(cfg.PriceWatches) != 1 || cfg.PriceWatches[0].Target != 299 {
		t.Errorf("price watches = %+v", cfg.PriceWatches)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	tmpDir := isolateEnv(t)
	os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("invalid json"), 0644)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestSelectModel(t *testing.T) {
	tests := []struct {
		name      string
		priority  []string
		available []string
		want      string
	}{
		{"first available wins", []string{"a", "b", "c"}, []string{"c", "b"}, "b"},
		{"gemini prefix stripped", []string{"gemini-2.0-flash"}, []string{"models/gemini-2.0-flash"}, "gemini-2.0-flash"},
		{"no overlap falls back to first", []string{"a", "b"}, []string{"z"}, "a"},
		{"listing failed", []string{"a"}, nil, "a"},
		{"empty priority", nil, []string{"x"}, DefaultModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectModel(tt.priority, tt.available); got != tt.want {
				t.Errorf("SelectModel = %q, want %q", got, tt.want)
			}
		})
	}
}
