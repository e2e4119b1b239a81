package cmd

import (
	"fmt"
	"os"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "threadline",
	Short: "Threaded chat with local and hosted models",
	Long: `threadline keeps many conversation threads with a language model.
Replies stream into the terminal and every thread is saved as it changes.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.threadline/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("provider", config.ProviderOllama, "model provider (ollama or openai)")
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.PersistentFlags().String("store", config.StoreJSON, "thread store backend (memory, json or sqlite)")
	viper.BindPFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))

	rootCmd.PersistentFlags().String("store-path", "", "thread store location")
	viper.BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store-path"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(loaded.Logging); err != nil {
		return err
	}

	cfg = loaded
	logger.WithComponent("cmd").Debug("Configuration loaded",
		"provider", cfg.Provider,
		"model", cfg.ActiveModel(),
		"store", cfg.Store.Backend)
	return nil
}
