package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/martinemde/llmwire/config"
	"github.com/martinemde/llmwire/unifiedllm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "llmwire",
	Short:         "Streaming client for OpenAI, Azure and Anthropic model endpoints",
	Long:          "llmwire sends a prompt to a configured model provider and streams the reply in a single event vocabulary.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (.yaml, .json or .jsonc)")
	rootCmd.PersistentFlags().StringP("model", "m", "", "Model to use (overrides the config file)")
	rootCmd.PersistentFlags().String("provider", "", "Model provider id (overrides the config file)")
	rootCmd.PersistentFlags().String("effort", "", "Reasoning effort: none, minimal, low, medium, high, xhigh")
	rootCmd.PersistentFlags().String("wire-api", "", "Force a wire protocol: responses, chat or anthropic")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging on stderr")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("effort", rootCmd.PersistentFlags().Lookup("effort"))
	_ = viper.BindPFlag("wire_api", rootCmd.PersistentFlags().Lookup("wire-api"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetEnvPrefix("LLMWIRE")
	viper.AutomaticEnv()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file, if any, and applies flag and
// LLMWIRE_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if m := viper.GetString("model"); m != "" {
		cfg.Model = m
	}
	if p := viper.GetString("provider"); p != "" {
		cfg.ModelProvider = p
	}
	if e := viper.GetString("effort"); e != "" {
		cfg.ModelReasoningEffort = unifiedllm.ReasoningEffort(e)
	}
	if w := viper.GetString("wire_api"); w != "" {
		wire, err := unifiedllm.ParseWireAPI(w)
		if err != nil {
			return nil, err
		}
		cfg.WireAPI = wire
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
