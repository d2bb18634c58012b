package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/transport"
)

var logger = log.GetLogger("module", "client")

var mainCmd = &cobra.Command{Use: "hotstuff-client"}

var (
	servers     []string
	repeat      int
	concurrency int
	timeout     time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit [command...]",
	Short: "Submit commands to the hotstuff nodes.",
	Long:  `Submit commands to the hotstuff nodes, spreading them round robin over the given servers.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return submitAll(ctx, servers, expand(args, repeat), concurrency)
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.StringSliceVarP(&servers, "server", "s", []string{"127.0.0.1:8000"}, "The RPC servers to connect to.")
	flags.IntVarP(&repeat, "repeat", "r", 1, "submit every command this many times, suffixed by its sequence")
	flags.IntVar(&concurrency, "concurrency", 8, "number of requests in flight")
	flags.DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline")
	mainCmd.AddCommand(submitCmd)
}

// expand repeats every command n times, appending the sequence when n > 1.
func expand(cmds []string, n int) []string {
	if n <= 1 {
		return cmds
	}
	out := make([]string, 0, len(cmds)*n)
	for _, c := range cmds {
		for i := 0; i < n; i++ {
			out = append(out, c+"-"+strconv.Itoa(i))
		}
	}
	return out
}

func submitAll(ctx context.Context, addrs []string, cmds []string, concurrency int) error {
	clients := make([]*transport.SubmitClient, 0, len(addrs))
	defer func() {
		for _, c := range clients {
			_ = c.Close()
		}
	}()
	for _, addr := range addrs {
		c, err := transport.NewSubmitClient(ctx, addr, nil)
		if err != nil {
			return err
		}
		clients = append(clients, c)
	}

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, cmd := range cmds {
		c := clients[i%len(clients)]
		cmd := cmd
		g.Go(func() error {
			if err := c.Submit(ctx, []byte(cmd)); err != nil {
				return fmt.Errorf("submit %q: %w", cmd, err)
			}
			logger.Debug("submitted", "cmd", cmd)
			return nil
		})
	}
	return g.Wait()
}

func main() {
	if mainCmd.Execute() != nil {
		os.Exit(1)
	}
}
