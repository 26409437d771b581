package stream

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"opencdm/internal/domain"
	protocol "opencdm/internal/protocol/clearkey"
)

// Descriptor is the YAML configuration a stream is loaded from. Binary
// values are hex.
//
//	metadata: "trailer"
//	type: ip
//	drm:
//	  key_system: org.w3.clearkey
//	  license_type: temporary
//	  init_data_type: keyids
//	  key_ids: ["0102..."]
//	samples:
//	  - kid: "0102..."
//	    iv: "0000000000000001"
//	    data: "9f3a..."
type Descriptor struct {
	Metadata string             `yaml:"metadata"`
	Type     string             `yaml:"type"`
	DRM      *DRMDescriptor     `yaml:"drm"`
	Samples  []SampleDescriptor `yaml:"samples"`
}

// DRMDescriptor names the license a protected stream needs.
type DRMDescriptor struct {
	KeySystem    string   `yaml:"key_system"`
	LicenseType  string   `yaml:"license_type"`
	Name         string   `yaml:"name"`
	InitDataType string   `yaml:"init_data_type"`
	KeyIDs       []string `yaml:"key_ids"`
}

// SampleDescriptor is one encrypted sample.
type SampleDescriptor struct {
	KeyID string `yaml:"kid"`
	IV    string `yaml:"iv"`
	Data  string `yaml:"data"`
}

// ParseDescriptor decodes a YAML descriptor.
func ParseDescriptor(configuration string) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal([]byte(configuration), &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse stream descriptor: %w", err)
	}
	return d, nil
}

// acquireRequest builds the license request of a protected stream.
func (d *DRMDescriptor) acquireRequest() (domain.AcquireRequest, error) {
	kids := make([]domain.KeyID, 0, len(d.KeyIDs))
	for _, s := range d.KeyIDs {
		kid, err := hex.DecodeString(s)
		if err != nil || len(kid) == 0 {
			return domain.AcquireRequest{}, fmt.Errorf("bad key id %q", s)
		}
		kids = append(kids, kid)
	}

	req := domain.AcquireRequest{
		KeySystem:    domain.KeySystem(d.KeySystem),
		LicenseType:  domain.ParseLicenseType(d.LicenseType),
		InitDataType: d.InitDataType,
		Name:         d.Name,
	}
	if req.InitDataType == "" {
		req.InitDataType = protocol.InitDataKeyIDs
	}
	var err error
	switch req.InitDataType {
	case protocol.InitDataKeyIDs:
		req.InitData, err = protocol.EncodeKeyIDs(kids)
	case protocol.InitDataCENC:
		req.InitData, err = protocol.BuildPSSH(kids)
	case protocol.InitDataWebM:
		if len(kids) != 1 {
			return domain.AcquireRequest{}, fmt.Errorf("webm init data takes exactly one key id, got %d", len(kids))
		}
		req.InitData = kids[0]
	default:
		return domain.AcquireRequest{}, fmt.Errorf("%w: %q", protocol.ErrUnsupportedInitData, req.InitDataType)
	}
	if err != nil {
		return domain.AcquireRequest{}, err
	}
	return req, nil
}

func (s SampleDescriptor) sample() (domain.Sample, error) {
	kid, err := hex.DecodeString(s.KeyID)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("sample kid: %w", err)
	}
	iv, err := hex.DecodeString(s.IV)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("sample iv: %w", err)
	}
	data, err := hex.DecodeString(s.Data)
	if err != nil {
		return domain.Sample{}, fmt.Errorf("sample data: %w", err)
	}
	return domain.Sample{KeyID: kid, IV: iv, Data: data}, nil
}
