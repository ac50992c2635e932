package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/gateway"
)

var rootCmd = &cobra.Command{
	Use:   "mentorbot",
	Short: "mentorbot - LINE mentor counseling bot",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server (governor + admin + cron)",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize the config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mentorbot configuration status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Line.ChannelSecret == "" || cfg.Line.ChannelAccessToken == "" {
		return fmt.Errorf("LINE credentials not set. Run 'mentorbot onboard' or set LINE_CHANNEL_SECRET / LINE_CHANNEL_ACCESS_TOKEN")
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("OpenAI API key not set. Run 'mentorbot onboard' or set OPENAI_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your LINE and OpenAI credentials\n", cfgPath)
	fmt.Println("  2. Or set LINE_CHANNEL_SECRET, LINE_CHANNEL_ACCESS_TOKEN and OPENAI_API_KEY")
	fmt.Println("  3. Run 'mentorbot serve' and point your LINE webhook at /webhook")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Listen: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Model: %s (escalated: %s)\n", cfg.Agent.Model, cfg.Agent.EscalatedModel)
	fmt.Printf("Experiment: enabled=%v split=%d\n", cfg.Experiment.Enabled, cfg.Experiment.SplitRatio)
	fmt.Printf("LINE secret: %s\n", maskCredential(cfg.Line.ChannelSecret))
	fmt.Printf("LINE token: %s\n", maskCredential(cfg.Line.ChannelAccessToken))
	fmt.Printf("OpenAI key: %s\n", maskCredential(cfg.OpenAI.APIKey))
	fmt.Printf("Snapshot: %s", cfg.Snapshot.Path)
	if cfg.Snapshot.RedisAddr != "" {
		fmt.Printf(" (redis mirror: %s)", cfg.Snapshot.RedisAddr)
	}
	fmt.Println()

	return nil
}

func maskCredential(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}
