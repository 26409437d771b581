package commands

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"opencdm/internal/domain"
)

// decrypt --kid --iv --in --out: decrypt one sample file.
func decryptCmd() *cobra.Command {
	var (
		kidHex, ivHex string
		in, out       string
		name          string
	)
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a CENC sample file",
		Long: "Decrypt a CENC sample file. The key comes from the persisted " +
			"license --name when given, otherwise from a fresh temporary license.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kids, err := parseKeyIDs([]string{kidHex})
			if err != nil {
				return err
			}
			iv, err := hex.DecodeString(ivHex)
			if err != nil {
				return fmt.Errorf("bad iv: %w", err)
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}

			if name != "" {
				_, err = wire.Licenses.Restore(cmd.Context(), keySystem(), name)
			} else {
				var req domain.AcquireRequest
				if req, err = keyIDsRequest(kids, domain.Temporary, ""); err == nil {
					_, err = wire.Licenses.Acquire(cmd.Context(), req)
				}
			}
			if err != nil {
				return err
			}

			sample := domain.Sample{KeyID: kids[0], IV: iv, Data: data}
			if _, err := wire.Media.DecryptSamples(cmd.Context(), []domain.Sample{sample}); err != nil {
				return err
			}
			if err := os.WriteFile(out, sample.Data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "decrypted %d bytes\n", len(sample.Data))
			return nil
		},
	}
	cmd.Flags().StringVar(&kidHex, "kid", "", "hex key id")
	cmd.Flags().StringVar(&ivHex, "iv", "", "hex IV (8 or 16 bytes)")
	cmd.Flags().StringVar(&in, "in", "", "encrypted input file")
	cmd.Flags().StringVar(&out, "out", "", "clear output file")
	cmd.Flags().StringVar(&name, "name", "", "persisted license to restore")
	for _, f := range []string{"kid", "iv", "in", "out"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
