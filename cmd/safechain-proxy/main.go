// Command safechain-proxy runs the intercepting forward proxy: an ingress
// MITM listener, a sideband meta server (/ca, /pac, /health, /metrics),
// background malware-list and endpoint-config refreshers, and a
// best-effort blocked-event notifier, wired together the way
// cmd/libvulnhttp/main.go wires libvuln.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/aikido-oss/safechain-proxy/internal/safechain"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "safechain-proxy",
		Short: "Intercepting forward proxy enforcing a per-ecosystem malware firewall",
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "safechain-proxy %s (%s)\n", version, runtime.Version())
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return safechain.Run(context.Background(), version)
		},
	}
}
