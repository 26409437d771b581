package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"opencdm/internal/domain"
)

func supportedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "supported <key-system> [mime-type]",
		Short: "Report whether a key system and mime type are supported",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mime := ""
			if len(args) == 2 {
				mime = args[1]
			}
			if wire.Accessor.IsTypeSupported(domain.KeySystem(args[0]), mime) {
				fmt.Fprintln(cmd.OutOrStdout(), "supported")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "not supported")
			return nil
		},
	}
}
