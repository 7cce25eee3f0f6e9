package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"emi-offers/internal/app"
	"emi-offers/internal/config"
	"emi-offers/internal/logging"
)

// skipConfig marks commands that run without configuration.
const skipConfig = "emi-offers/skip-config"

var (
	cfgFile   string
	envFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:               "emi-offers",
	Short:             "Synchronise published electricity market offers into a local store",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func initApp(cmd *cobra.Command, _ []string) error {
	if appHandle != nil || cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Logging.Fields == nil {
		cfg.Logging.Fields = make(map[string]string, 2)
	}
	cfg.Logging.Fields["app"] = cfg.App.Name
	cfg.Logging.Fields["env"] = cfg.App.Environment

	appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	appHandle.Out = cmd.OutOrStdout()
	return nil
}

// Execute runs the command tree and exits non-zero on failure, including an
// aborted sync.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "emi-offers: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file (default ./config.yaml or ./config/config.yaml)")
	flags.StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration; ignored when missing")
	flags.StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(
		syncCmd,
		runCmd,
		showCmd,
		exportCmd,
		migrateCmd,
		simulateCmd,
		versionCmd,
	)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
