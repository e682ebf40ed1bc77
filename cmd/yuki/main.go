package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/yuki/internal/config"
	"github.com/stellarlinkco/yuki/internal/gateway"
	"github.com/stellarlinkco/yuki/internal/llm"
	"github.com/stellarlinkco/yuki/internal/memory"
	"github.com/stellarlinkco/yuki/internal/persona"
)

var rootCmd = &cobra.Command{
	Use:   "yuki",
	Short: "yuki - 安尼亞 family Telegram assistant",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadDotEnv()
	},
	SilenceUsage: true,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (Telegram + scheduler + health server)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and persona files",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show yuki status",
	RunE:  runStatus,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the provider's models and the one that would be used",
	RunE:  runModels,
}

var factsCmd = &cobra.Command{
	Use:   "facts",
	Short: "Print every remembered fact",
	RunE:  runFacts,
}

var forgetCmd = &cobra.Command{
	Use:   "forget",
	Short: "Delete every remembered fact",
	RunE:  runForget,
}

var forgetYes bool

func init() {
	forgetCmd.Flags().BoolVarP(&forgetYes, "yes", "y", false, "Confirm deletion")
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, modelsCmd, factsCmd, forgetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'yuki onboard' or set GROQ_API_KEY / GEMINI_API_KEY")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Set TELEGRAM_BOT_TOKEN")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		data, _ := json.MarshalIndent(config.DefaultConfig(), "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	writeIfNotExists(out, filepath.Join(cfgDir, "persona.yaml"), persona.DefaultYAML)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Set TELEGRAM_BOT_TOKEN and GROQ_API_KEY (or GEMINI_API_KEY) in .env")
	fmt.Fprintln(out, "  2. Optionally set OWNER_CHAT_ID for daily news and reminders")
	fmt.Fprintln(out, "  3. Run 'yuki gateway'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Bot: %s (triggers: %v, cool-down %ds)\n", cfg.Bot.Name, cfg.Bot.TriggerWords, cfg.Bot.CooldownSeconds)
	fmt.Fprintf(out, "Provider: %s %s\n", cfg.Provider.Type, cfg.Provider.BaseURL)
	fmt.Fprintf(out, "Models: %v\n", cfg.Provider.Models)
	fmt.Fprintf(out, "API Key: %s\n", maskSecret(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Telegram: enabled=%v token=%s\n", cfg.Channels.Telegram.Enabled, maskSecret(cfg.Channels.Telegram.Token))
	if cfg.Bot.OwnerChatID != "" {
		fmt.Fprintf(out, "Owner chat: %s\n", cfg.Bot.OwnerChatID)
	} else {
		fmt.Fprintln(out, "Owner chat: not set (scheduled pushes disabled)")
	}
	fmt.Fprintf(out, "News: enabled=%v at %s (%d feeds)\n", cfg.News.Enabled, cfg.Schedule.NewsTime, len(cfg.News.Feeds))
	fmt.Fprintf(out, "Reminders: %s, %d-day window\n", cfg.Schedule.ReminderTime, cfg.Schedule.ReminderWindowDays)
	fmt.Fprintf(out, "Price watches: %d every %s\n", len(cfg.PriceWatches), cfg.Schedule.PriceCheckInterval)

	if cfg.Memory.Driver == config.StorePostgres {
		fmt.Fprintln(out, "Memory: postgres")
		return nil
	}
	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		fmt.Fprintf(out, "Memory: %s (not created yet)\n", cfg.Memory.DBPath)
		return nil
	}
	store, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	defer store.Close()
	facts, err := store.AllFacts(commandContext(cmd))
	if err != nil {
		fmt.Fprintf(out, "Memory: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Memory: %s (%d facts)\n", cfg.Memory.DBPath, len(facts))
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set")
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 15*time.Second)
	defer cancel()

	client := llm.NewFromProvider(cfg.Provider)
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, m := range models {
		fmt.Fprintln(out, m)
	}
	fmt.Fprintf(out, "\nSelected: %s\n", config.SelectModel(cfg.Provider.Models, models))
	return nil
}

func runFacts(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	facts, err := store.AllFacts(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("list facts: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(facts) == 0 {
		fmt.Fprintln(out, "No facts remembered.")
		return nil
	}
	for _, f := range facts {
		fmt.Fprintf(out, "%s  %s\n", f.CreatedAt.Format(memory.DateLayout), f)
	}
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	if !forgetYes {
		return fmt.Errorf("refusing to delete facts without --yes")
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.ClearFacts(commandContext(cmd)); err != nil {
		return fmt.Errorf("clear facts: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "All facts deleted.")
	return nil
}

func openStore(cfg *config.Config) (memory.Store, error) {
	engine, err := memory.Open(cfg.Memory.Driver, cfg.Memory.DBPath, cfg.Memory.DSN)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return engine, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}
