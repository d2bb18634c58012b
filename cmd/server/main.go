package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/config"
)

var logger = log.GetLogger("module", "server")

// The main command describes the service and
// defaults to printing the help message.
var mainCmd = &cobra.Command{Use: "hotstuff-server"}

var configFile string

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hotstuff node.",
	Long:  `Start a hotstuff node that interacts with the consensus network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return fmt.Errorf("trailing args detected")
		}
		// Parsing of the command line is done so silence cmd usage
		cmd.SilenceUsage = true
		return serve(cmd)
	},
}

func startCmd() *cobra.Command {
	// Set the flags on the node start command.
	flags := nodeStartCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "hotstuff node config file")
	flags.Int64("replica-id", 0, "hotstuff node replica id")
	flags.String("data-dir", "", "directory holding the consensus state")
	flags.String("key-file", "", "PEM encoded private key of the replica")
	flags.String("log-level", "", "log level: debug, info, warn, error or crit")
	flags.String("metrics-address", "", "address of the status and metrics endpoints")
	flags.Bool("tls", false, "Use TLS when communicating with the other hotstuff nodes")
	return nodeStartCmd
}

func serve(cmd *cobra.Command) error {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}

	n, err := newNode(cfg)
	if err != nil {
		logger.Error("Failed to create hotstuff node", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return n.run(ctx)
}

func main() {
	mainCmd.AddCommand(startCmd())
	mainCmd.AddCommand(keygenCmd())
	// On failure Cobra prints the usage message and error string, so we only
	// need to exit with a non-0 status
	if mainCmd.Execute() != nil {
		os.Exit(1)
	}
}
