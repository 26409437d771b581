package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"opencdm/internal/app"
	"opencdm/internal/domain"
	"opencdm/internal/logging"
)

var (
	configPath string
	logLevel   string
	serverURL  string
	wire       *app.Wire
)

func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "ocdm",
		Short:        "Content decryption session manager",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = app.LoadConfig(configPath); err != nil {
					return err
				}
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			if serverURL != "" {
				cfg.License.ServerURL = serverURL
			}

			log, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			wire, err = app.NewWire(cfg, log)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "yaml config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "license server base URL (overrides config)")

	root.AddCommand(supportedCmd(), licenseCmd(), restoreCmd(), releaseCmd(), decryptCmd(), streamCmd())
	return root
}

func keySystem() domain.KeySystem {
	return domain.KeySystem(wire.Config.Engine.KeySystem)
}

func parseKeyIDs(in []string) ([]domain.KeyID, error) {
	kids := make([]domain.KeyID, 0, len(in))
	for _, s := range in {
		kid, err := hex.DecodeString(s)
		if err != nil || len(kid) == 0 {
			return nil, fmt.Errorf("bad key id %q", s)
		}
		kids = append(kids, kid)
	}
	return kids, nil
}
