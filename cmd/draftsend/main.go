package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code out of a command
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	return e.msg
}

var (
	configFile string
	logLevel   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "draftsend",
		Short:         "Send a saved draft to a recipient list in paced batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for run diagnostics")
	root.AddCommand(newSendCmd())
	root.AddCommand(newLoginCmd())
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, exit.msg)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

// cliLogger writes human-readable diagnostics to stderr so stdout stays the
// batch report
func cliLogger() *logger.Logger {
	return logger.NewWithWriter(os.Stderr, logLevel, "text")
}
