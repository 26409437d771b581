package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"opencdm/internal/domain"
	"opencdm/internal/stream"
)

type streamPrinter struct{ out io.Writer }

func (p streamPrinter) DRM(status domain.KeyStatus) {
	fmt.Fprintf(p.out, "drm: %s\n", status)
}

func (p streamPrinter) StateChange(state stream.State) {
	fmt.Fprintf(p.out, "state: %s\n", state)
}

// stream <file>: load and play a yaml stream descriptor.
func streamCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stream <descriptor.yaml>",
		Short: "Load and play a stream descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			s := wire.NewStream()
			s.SetCallbacks(streamPrinter{out: out})

			if err := s.Load(cmd.Context(), string(conf)); err != nil {
				return err
			}
			fmt.Fprintf(out, "type: %s drm: %s metadata: %q\n", s.Type(), s.DRM(), s.Metadata())
			if err := s.Play(cmd.Context()); err != nil {
				return err
			}
			for i, smp := range s.Samples() {
				fmt.Fprintf(out, "sample %d: %s\n", i, hex.EncodeToString(smp.Data))
			}
			return s.Close()
		},
	}
}
