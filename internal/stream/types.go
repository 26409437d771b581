package stream

import (
	"fmt"
	"strings"

	"opencdm/internal/domain"
)

// State is the playback state of a stream.
type State uint8

const (
	Idle State = iota
	Loading
	Prepared
	Paused
	Playing
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Prepared:
		return "prepared"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Type is the delivery medium of a stream. The broadcast types are bits;
// RF is all of them.
type Type uint8

const (
	Undefined   Type = 0
	Cable       Type = 1
	Handheld    Type = 2
	Satellite   Type = 4
	Terrestrial Type = 8
	DAB         Type = 16
	RF          Type = 31
	IP          Type = 32
)

var typeNames = map[string]Type{
	"undefined":   Undefined,
	"cable":       Cable,
	"handheld":    Handheld,
	"satellite":   Satellite,
	"terrestrial": Terrestrial,
	"dab":         DAB,
	"rf":          RF,
	"ip":          IP,
}

// ParseType converts a type name; the empty name is Undefined.
func ParseType(s string) (Type, error) {
	if s == "" {
		return Undefined, nil
	}
	t, ok := typeNames[strings.ToLower(s)]
	if !ok {
		return Undefined, fmt.Errorf("unknown stream type %q", s)
	}
	return t, nil
}

func (t Type) String() string {
	for name, v := range typeNames {
		if v == t {
			return name
		}
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// DRM is the protection scheme of a stream.
type DRM uint8

const (
	None DRM = iota
	ClearKey
	PlayReady
	Widevine
	Unknown
)

var drmSystems = map[domain.KeySystem]DRM{
	"org.w3.clearkey":         ClearKey,
	"com.microsoft.playready": PlayReady,
	"com.widevine.alpha":      Widevine,
}

// DRMFor maps a key system to its DRM type.
func DRMFor(ks domain.KeySystem) DRM {
	if ks == "" {
		return None
	}
	if d, ok := drmSystems[ks]; ok {
		return d
	}
	return Unknown
}

func (d DRM) String() string {
	switch d {
	case None:
		return "none"
	case ClearKey:
		return "clearkey"
	case PlayReady:
		return "playready"
	case Widevine:
		return "widevine"
	default:
		return "unknown"
	}
}
