package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jrepp/prism-modelpool/pkg/handoff"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version or the handoff protocol version",
	Long: `Print the build version. With --protocol, print only the handoff
protocol version; the launcher runs "<worker> version --protocol" before a
launch to check that the worker binary speaks the same protocol.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, _ := cmd.Flags().GetBool("protocol")
		if protocol {
			fmt.Fprintln(cmd.OutOrStdout(), handoff.ProtocolVersion)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "modelpool %s (handoff protocol %d)\n", Version, handoff.ProtocolVersion)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("protocol", false, "Print only the handoff protocol version")
}
