// Package main is the entry point for the tlswire binary.
// It provides a CLI for exercising transport backends: generating test
// certificate material, probing a loopback handshake and listing the
// registered backends.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// Register the reference backend.
	_ "github.com/meshguard/tlswire/pkg/minttls"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for tlswire
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tlswire",
		Short: "Tooling for callback-driven TLS transport backends",
		Long: `tlswire exercises pluggable TLS transport backends without opening
sockets: sessions move bytes through in-memory callbacks, which makes the
full handshake and data path testable from the command line.

Example:
  tlswire gencert --out-dir ./pki --cn localhost
  tlswire probe --ca ./pki/ca.pem --cert ./pki/cert.pem --key ./pki/key.pem`,
	}

	rootCmd.AddCommand(newGencertCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newBackendsCmd())

	return rootCmd
}
