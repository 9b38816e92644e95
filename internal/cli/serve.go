package cli

import (
	"fmt"

	"github.com/harun/seance/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the seance gateway in the foreground",
	Long: `Run the seance gateway in the foreground.
Serves the chat WebSocket and the HTTP API until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		pid, _ := daemon.ReadPID(pidFile)
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seance %s listening on %s\n", daemon.Version, d.GetGatewayServer().Addr())

	d.Wait(cmd.Context())
	return nil
}

func isRunning(pidFile string) bool {
	return daemon.ProcessAlive(pidFile)
}
