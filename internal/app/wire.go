package app

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"opencdm/internal/cdm"
	"opencdm/internal/clock"
	"opencdm/internal/domain"
	"opencdm/internal/engine/clearkey"
	"opencdm/internal/licenseserver"
	licensesvc "opencdm/internal/services/license"
	mediasvc "opencdm/internal/services/media"
	"opencdm/internal/store"
	"opencdm/internal/stream"
)

// Wire bundles the core, services and clients for the CLI.
type Wire struct {
	Config   Config
	Log      logrus.FieldLogger
	Store    domain.LicenseStore
	Accessor *cdm.Accessor
	Client   *licenseserver.Client
	Licenses domain.LicenseService
	Media    domain.MediaService
	HTTP     *http.Client
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config, log logrus.FieldLogger) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	var ls domain.LicenseStore = store.NewMemoryStore()
	if cfg.Engine.StoreDir != "" {
		fs, err := store.NewLicenseFileStore(cfg.Engine.StoreDir, cfg.Engine.StorePassphrase, store.DefaultKDFParams)
		if err != nil {
			return nil, err
		}
		ls = fs
	}

	clk := clock.Real{}
	eng := clearkey.New(clearkey.Config{
		LicenseURL: cfg.Engine.LicenseURL,
		Store:      ls,
		Clock:      clk,
		Log:        log.WithField("component", "engine"),
	})
	accessor, err := cdm.New(eng,
		cdm.WithClock(clk),
		cdm.WithExchangeTimeout(cfg.Session.ExchangeTimeout),
		cdm.WithLogger(log.WithField("component", "cdm")),
	)
	if err != nil {
		return nil, err
	}

	// Round trips are bounded by the license service per request.
	httpClient := &http.Client{}
	client := licenseserver.NewClient(cfg.License.ServerURL, httpClient)

	licenses := licensesvc.New(accessor, client, licensesvc.Config{
		MaxRounds:      cfg.License.MaxRounds,
		RequestTimeout: cfg.License.Timeout,
	}, log.WithField("component", "license"))
	media := mediasvc.New(accessor, cfg.Session.KeyWait, log.WithField("component", "media"))

	return &Wire{
		Config:   cfg,
		Log:      log,
		Store:    ls,
		Accessor: accessor,
		Client:   client,
		Licenses: licenses,
		Media:    media,
		HTTP:     httpClient,
	}, nil
}

// NewStream returns an Idle stream backed by the wired services.
func (w *Wire) NewStream() *stream.Stream {
	return stream.New(w.Licenses, w.Media, w.Log.WithField("component", "stream"))
}

// Close closes every open session.
func (w *Wire) Close() error {
	if w == nil {
		return errors.New("app: nil wire")
	}
	return w.Accessor.Close()
}
