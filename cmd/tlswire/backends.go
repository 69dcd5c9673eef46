package main

import (
	"github.com/spf13/cobra"

	"github.com/meshguard/tlswire/pkg/tlswire"
)

// newBackendsCmd creates the backends command
func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered transport backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range tlswire.Backends() {
				plugin, err := tlswire.Lookup(name)
				if err != nil {
					return err
				}
				cmd.Printf("%s\t%s\n", name, plugin.TypeNameAndVersion())
			}
			return nil
		},
	}
}
