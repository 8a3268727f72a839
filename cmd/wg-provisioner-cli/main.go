package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

var AppVersion string

type command func(ctx context.Context, c *apiClient, args []string) error

var commands = map[string]command{
	"provision":    runProvision,
	"decommission": runDecommission,
	"list":         runList,
	"stats":        runStats,
	"plans":        runPlans,
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wg-provisioner-cli <command> [flags]

Commands:
  provision     Create a client and save <name>.conf and <name>_qr.png
  decommission  Delete a client and revoke its peer
  list          List clients
  stats         Show client and pool counters
  plans         List available plans

Environment: WGP_SERVER_URL, WGP_ADMIN_API_KEY or WGP_TOKEN
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	if os.Args[1] == "version" {
		fmt.Println(AppVersion)
		return
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	if err := InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, newAPIClient(config.Server), os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
