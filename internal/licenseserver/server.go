package licenseserver

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"opencdm/internal/crypto"
	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
)

// maxRequest bounds a license request body.
const maxRequest = 64 << 10

// Server answers ClearKey license requests from an in-memory key table.
type Server struct {
	log logrus.FieldLogger
	mux *http.ServeMux

	mu   sync.RWMutex
	keys map[string][]byte
}

// NewServer returns a server knowing keys.
func NewServer(keys []domain.ContentKey, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{log: log, mux: http.NewServeMux(), keys: make(map[string][]byte)}
	for _, k := range keys {
		s.AddKey(k)
	}
	s.mux.HandleFunc("POST /license", s.handleLicense)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	return s
}

// AddKey makes k available to license requests.
func (s *Server) AddKey(k domain.ContentKey) {
	s.mu.Lock()
	s.keys[string(k.ID)] = append([]byte(nil), k.Key...)
	s.mu.Unlock()
}

// ServeHTTP serves the API with an access log.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"remote":   r.RemoteAddr,
		"status":   rec.status,
		"bytes":    rec.bytes,
		"duration": time.Since(start).String(),
	}).Info("request")
}

func (s *Server) handleLicense(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequest))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out []byte
	if req.Release {
		out, err = protocol.EncodeReleaseAck(req.KeyIDs)
		s.log.WithField("keys", len(req.KeyIDs)).Info("license released")
	} else {
		found := s.lookup(req.KeyIDs)
		if len(found) == 0 {
			http.Error(w, "no requested key is known", http.StatusNotFound)
			return
		}
		out, err = protocol.EncodeLicense(found, req.LicenseType)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) lookup(kids []domain.KeyID) []domain.ContentKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContentKey
	for _, kid := range kids {
		if k, ok := s.keys[string(kid)]; ok {
			out = append(out, domain.ContentKey{ID: kid, Key: k})
		} else {
			s.log.WithField("key", crypto.Fingerprint(kid)).Debug("unknown key requested")
		}
	}
	return out
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
