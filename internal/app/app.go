package app

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"opencdm/internal/licenseserver"
)

// NewLicenseServer builds the license HTTP server described by cfg.
func NewLicenseServer(cfg ServerConfig, log logrus.FieldLogger) (*http.Server, error) {
	keys, err := cfg.ContentKeys()
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           licenseserver.NewServer(keys, log),
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}
