package ua

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidEndpoint indicates that an endpoint URL could not be parsed.
var ErrInvalidEndpoint = errors.New("invalid endpoint url")

// Endpoint URL schemes understood by the client.
const (
	SchemeOPCTCP = "opc.tcp"
	SchemeWS     = "ws"
	SchemeWSS    = "wss"
	SchemeMem    = "mem"
)

// SecurityMode is the message security mode requested for a secure channel.
// Only SecurityModeNone is implemented by the bundled transports.
type SecurityMode uint8

// Message security modes.
const (
	SecurityModeNone SecurityMode = iota + 1
	SecurityModeSign
	SecurityModeSignAndEncrypt
)

// String returns the mode name.
func (m SecurityMode) String() string {
	switch m {
	case SecurityModeNone:
		return "None"
	case SecurityModeSign:
		return "Sign"
	case SecurityModeSignAndEncrypt:
		return "SignAndEncrypt"
	default:
		return fmt.Sprintf("SecurityMode(%d)", uint8(m))
	}
}

// SecuritySettings is the security mode and policy requested when opening a channel.
type SecuritySettings struct {
	Mode   SecurityMode
	Policy string
}

// NoSecurity is the only security setting exercised by the client.
var NoSecurity = SecuritySettings{Mode: SecurityModeNone, Policy: "None"}

// Endpoint is a parsed server endpoint URL.
type Endpoint struct {
	raw    string
	scheme string
	host   string
	path   string
}

// ParseEndpoint parses opc.tcp://host:port/path, ws(s)://host:port/path and mem://name URLs.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrInvalidEndpoint)
	}

	u, err := url.Parse(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case SchemeOPCTCP, SchemeWS, SchemeWSS:
		if u.Hostname() == "" {
			return Endpoint{}, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, s)
		}
	case SchemeMem:
		if u.Host == "" && u.Opaque == "" {
			return Endpoint{}, fmt.Errorf("%w: %q: missing name", ErrInvalidEndpoint, s)
		}
	default:
		return Endpoint{}, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidEndpoint, s, u.Scheme)
	}

	host := u.Host
	if host == "" {
		host = u.Opaque
	}

	return Endpoint{raw: s, scheme: scheme, host: host, path: u.Path}, nil
}

// MustParseEndpoint is like ParseEndpoint but panics on error.
func MustParseEndpoint(s string) Endpoint {
	ep, err := ParseEndpoint(s)
	if err != nil {
		panic(err)
	}

	return ep
}

// String returns the endpoint URL as given.
func (e Endpoint) String() string { return e.raw }

// Scheme returns the lower-cased URL scheme.
func (e Endpoint) Scheme() string { return e.scheme }

// Host returns host[:port], or the simulator name for mem:// endpoints.
func (e Endpoint) Host() string { return e.host }

// Path returns the URL path.
func (e Endpoint) Path() string { return e.path }

// IsZero reports whether e was never parsed.
func (e Endpoint) IsZero() bool { return e.raw == "" }

// MarshalText implements encoding.TextMarshaler.
func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.raw), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Endpoint) UnmarshalText(text []byte) error {
	ep, err := ParseEndpoint(string(text))
	if err != nil {
		return err
	}
	*e = ep

	return nil
}
