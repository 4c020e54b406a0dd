// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command indranode runs a single Indra Network node: identity,
// realm registry, router, pending store, blob store, handler, and a
// pluggable transport, wired together and served until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trumanellis/indranet/config"
	netids "github.com/trumanellis/indranet/internal/ids"
	"github.com/trumanellis/indranet/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "indranode: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "indranode",
		Short:   "Run an Indra Network node",
		Version: version.Current.String(),
	}
	cmd.AddCommand(runCmd())
	return cmd
}

func runCmd() *cobra.Command {
	var (
		dataDir      string
		listen       string
		diagnostics  string
		transportVal string
		legacyUns    bool
		ttl          uint8
		peers        []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default().ApplyEnv()
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddress = listen
			}
			if cmd.Flags().Changed("diagnostics") {
				cfg.DiagnosticsAddress = diagnostics
			}
			if cmd.Flags().Changed("allow-legacy-unsigned") {
				cfg.AllowLegacyUnsigned = legacyUns
			}
			if cmd.Flags().Changed("ttl") {
				cfg.TTLDefault = ttl
			}

			node, err := NewNode(cfg, transportVal)
			if err != nil {
				return err
			}

			for _, p := range peers {
				peerID, endpoint, err := parsePeerFlag(p)
				if err != nil {
					return err
				}
				node.AddPeer(peerID, endpoint)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			serveErr := make(chan error, 1)
			go func() { serveErr <- node.Run(ctx) }()

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					node.log.Error("transport serve exited", "error", err)
				}
			}

			return node.Close()
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "node state directory")
	cmd.Flags().StringVar(&listen, "listen", "", "transport bind address")
	cmd.Flags().StringVar(&diagnostics, "diagnostics", "", "diagnostics HTTP bind address (empty disables)")
	cmd.Flags().StringVar(&transportVal, "transport", "zmq", "transport implementation: zmq, memory")
	cmd.Flags().BoolVar(&legacyUns, "allow-legacy-unsigned", false, "accept unsigned wire messages")
	cmd.Flags().Uint8Var(&ttl, "ttl", 0, "default hop budget for locally originated packets")
	cmd.Flags().StringArrayVar(&peers, "peer", nil, "known peer as hex-peer-id=endpoint, repeatable")

	return cmd
}

// parsePeerFlag parses a "<hex-peer-id>=<endpoint>" --peer value.
func parsePeerFlag(raw string) (netids.PeerIdentity, string, error) {
	idStr, endpoint, ok := strings.Cut(raw, "=")
	if !ok {
		return netids.PeerIdentity{}, "", fmt.Errorf("invalid --peer %q, want hex-peer-id=endpoint", raw)
	}
	id, err := netids.PeerIdentityFromHex(idStr)
	if err != nil {
		return netids.PeerIdentity{}, "", fmt.Errorf("invalid --peer %q: %w", raw, err)
	}
	return id, endpoint, nil
}
