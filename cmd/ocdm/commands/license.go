package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
)

// license --kid <hex>...: acquire a license for the key ids.
func licenseCmd() *cobra.Command {
	var (
		kids       []string
		persistent bool
		name       string
	)
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Acquire a license for key ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseKeyIDs(kids)
			if err != nil {
				return err
			}
			lt := domain.Temporary
			if persistent {
				lt = domain.PersistentLicense
			} else if name != "" {
				return fmt.Errorf("--name needs --persistent")
			}
			req, err := keyIDsRequest(ids, lt, name)
			if err != nil {
				return err
			}
			res, err := wire.Licenses.Acquire(cmd.Context(), req)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&kids, "kid", nil, "hex key id (repeatable)")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "request a persistent license")
	cmd.Flags().StringVar(&name, "name", "", "name to persist the license under")
	_ = cmd.MarkFlagRequired("kid")
	return cmd
}

// restore --name <name>: load a persisted license.
func restoreCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a persisted license by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := wire.Licenses.Restore(cmd.Context(), keySystem(), name)
			if err != nil {
				return err
			}
			printResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "license name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// release --name <name>: release a persisted license.
func releaseCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Release a persisted license by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.Licenses.Release(cmd.Context(), keySystem(), name); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "released")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "license name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func keyIDsRequest(kids []domain.KeyID, lt domain.LicenseType, name string) (domain.AcquireRequest, error) {
	init, err := protocol.EncodeKeyIDs(kids)
	if err != nil {
		return domain.AcquireRequest{}, err
	}
	return domain.AcquireRequest{
		KeySystem:    keySystem(),
		LicenseType:  lt,
		InitDataType: protocol.InitDataKeyIDs,
		InitData:     init,
		Name:         name,
	}, nil
}

func printResult(cmd *cobra.Command, res domain.LicenseResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session: %s\n", res.SessionID)
	if res.Name != "" {
		fmt.Fprintf(out, "name:    %s\n", res.Name)
	}
	fmt.Fprintf(out, "status:  %s\n", res.Status)
	fmt.Fprintf(out, "rounds:  %d\n", res.Rounds)
}
