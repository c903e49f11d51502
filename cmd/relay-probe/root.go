package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tphan267/pulse-relay/pkg/logger"
	"github.com/tphan267/pulse-relay/pkg/utils"
)

var (
	serverURL string
	token     string
	userID    int64
	wsPath    string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relay-probe",
	Short: "Command-line client for a pulse-relay server",
	Long: `relay-probe talks to a pulse-relay server. It can log in, list live
streams, host or watch a stream and send chat lines, printing every relay
message it receives.`,
	Version: version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&serverURL, "server", "s", utils.Env("PULSE_SERVER", "http://localhost:3040"), "Relay server URL")
	flags.StringVarP(&token, "token", "t", utils.Env("PULSE_TOKEN", ""), "Session token (see the login command)")
	flags.Int64VarP(&userID, "user", "u", int64(utils.EnvInt("PULSE_USER", 0)), "User id to claim when the relay trusts client identity (no token)")
	flags.StringVar(&wsPath, "path", "/ws", "WebSocket path on the server")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log client connection details")
}

// Execute runs the root command until it returns or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err.Error())
		stop()
		os.Exit(1)
	}
}

func clientLogger() *logger.Logger {
	if !verbose {
		return logger.Discard()
	}
	return logger.New(os.Stderr, "PROBE", logger.DebugLevel)
}
