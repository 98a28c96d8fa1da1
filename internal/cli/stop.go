package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Signal a running orchestrator to shut down",
	Long: `Reads the project's PID sentinel and sends SIGTERM to the owning
process. The orchestrator finishes its current tick, cancels
outstanding background tasks, persists state, and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dirs, err := resolveDirs()
		if err != nil {
			return err
		}
		path := pidFilePath(dirs)

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("no orchestrator is running for this project (no pid sentinel at %s)", path)
			}
			return fmt.Errorf("read pid sentinel: %w", err)
		}

		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("pid sentinel %s is corrupt: %w", path, err)
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("find process %d: %w", pid, err)
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal process %d: %w", pid, err)
		}

		fmt.Printf("sent SIGTERM to pid %d\n", pid)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
