package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meshguard/tlswire/internal/certtest"
)

// newGencertCmd creates the gencert command
func newGencertCmd() *cobra.Command {
	var (
		outDir     string
		commonName string
		org        string
		dnsNames   []string
		client     bool
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "gencert",
		Short: "Generate a throwaway CA and leaf certificate",
		Long: `Generates a self-signed CA plus one leaf signed by it and writes
ca.pem, cert.pem and key.pem into the output directory. With --passphrase
the key is written as an encrypted PEM block.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := certtest.NewCA(commonName + " CA")
			if err != nil {
				return err
			}

			certPEM, keyPEM, err := ca.Issue(certtest.LeafOptions{
				CommonName:   commonName,
				Organization: org,
				DNSNames:     dnsNames,
				Client:       client,
			})
			if err != nil {
				return err
			}

			if passphrase != "" {
				keyPEM, err = certtest.EncryptKey(keyPEM, passphrase)
				if err != nil {
					return err
				}
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			files := map[string][]byte{
				"ca.pem":   ca.CertPEM,
				"cert.pem": certPEM,
				"key.pem":  keyPEM,
			}
			for name, data := range files {
				path := filepath.Join(outDir, name)
				if err := os.WriteFile(path, data, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				cmd.Printf("wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out-dir", "o", ".", "Directory to write the PEM files into")
	cmd.Flags().StringVar(&commonName, "cn", "localhost", "Leaf common name")
	cmd.Flags().StringVar(&org, "org", "", "Leaf organization")
	cmd.Flags().StringSliceVar(&dnsNames, "dns", nil, "Leaf DNS names (defaults to the common name)")
	cmd.Flags().BoolVar(&client, "client", false, "Issue a client-authentication leaf")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encrypt the private key with this passphrase")

	return cmd
}
