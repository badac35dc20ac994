package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/internal/logging"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "0.1.0-dev"

var (
	cfgFile string
	logger  *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "modelpool",
	Short: "Launch a pool of model-serving workers",
	Long: `modelpool prepares one model artifact and starts a pool of identical
worker processes that serve it, each on its own port and credential.

The launcher exits 0 when every worker ran cleanly, 2 when some workers
failed (degraded) and 1 when the launch was aborted before any worker started.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(viper.GetString("log.level"), viper.GetBool("log.development"))
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// exitError carries a process exit code out of a command
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// mustBind binds a flag to a viper key. A failure is a programming error.
func mustBind(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag for %s: %v", key, err))
	}
}

func mustBindEnv(key, env string) {
	if err := viper.BindEnv(key, env); err != nil {
		panic(fmt.Sprintf("bind env %s for %s: %v", env, key, err))
	}
}

// Execute runs the root command
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	if ee, ok := err.(*exitError); ok {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-development", false, "Human-readable console logs")

	mustBind("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("log.development", rootCmd.PersistentFlags().Lookup("log-development"))

	// Workers get no flags; the launcher hands its log settings down through these
	mustBindEnv("log.level", logging.EnvLogLevel)
	mustBindEnv("log.development", logging.EnvLogDevelopment)

	rootCmd.AddCommand(launchCmd, workerCmd, versionCmd, summaryCmd)
}
