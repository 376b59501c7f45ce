package ua

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidNodeID indicates that a node id string could not be parsed.
var ErrInvalidNodeID = errors.New("invalid node id")

// NodeIDType represents the identifier type of a NodeID.
type NodeIDType uint8

// NodeID identifier types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// String returns the prefix used by the canonical string form.
func (t NodeIDType) String() string {
	switch t {
	case NodeIDTypeNumeric:
		return "i"
	case NodeIDTypeString:
		return "s"
	case NodeIDTypeGUID:
		return "g"
	case NodeIDTypeOpaque:
		return "b"
	default:
		return "unknown"
	}
}

// NodeID addresses one node in a server address space: a namespace index plus an identifier.
// The zero value is the null node id (ns=0;i=0).
type NodeID struct {
	Namespace uint16
	Type      NodeIDType
	Numeric   uint32
	Str       string   // identifier of string node ids
	GUID      [16]byte // identifier of guid node ids
	Opaque    string   // raw bytes of opaque node ids, kept as string so NodeID stays comparable
}

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{Namespace: namespace, Type: NodeIDTypeNumeric, Numeric: id}
}

// NewStringNodeID creates a new string NodeID.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{Namespace: namespace, Type: NodeIDTypeString, Str: id}
}

// NewGUIDNodeID creates a new GUID NodeID.
func NewGUIDNodeID(namespace uint16, guid [16]byte) NodeID {
	return NodeID{Namespace: namespace, Type: NodeIDTypeGUID, GUID: guid}
}

// NewOpaqueNodeID creates a new opaque (ByteString) NodeID.
func NewOpaqueNodeID(namespace uint16, b []byte) NodeID {
	return NodeID{Namespace: namespace, Type: NodeIDTypeOpaque, Opaque: string(b)}
}

// IsNull reports whether n is the null node id.
func (n NodeID) IsNull() bool {
	return n == NodeID{}
}

// String returns the canonical string form, e.g. "i=84" or "ns=1;s=Temperature".
func (n NodeID) String() string {
	var sb strings.Builder
	if n.Namespace != 0 {
		sb.WriteString("ns=")
		sb.WriteString(strconv.FormatUint(uint64(n.Namespace), 10))
		sb.WriteByte(';')
	}
	sb.WriteString(n.Type.String())
	sb.WriteByte('=')

	switch n.Type {
	case NodeIDTypeNumeric:
		sb.WriteString(strconv.FormatUint(uint64(n.Numeric), 10))
	case NodeIDTypeString:
		sb.WriteString(n.Str)
	case NodeIDTypeGUID:
		sb.WriteString(formatGUID(n.GUID))
	case NodeIDTypeOpaque:
		sb.WriteString(base64.StdEncoding.EncodeToString([]byte(n.Opaque)))
	}

	return sb.String()
}

// MarshalText implements encoding.TextMarshaler.
func (n NodeID) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Aliases are accepted.
func (n *NodeID) UnmarshalText(text []byte) error {
	id, err := ResolveNodeID(string(text))
	if err != nil {
		return err
	}
	*n = id

	return nil
}

// ParseNodeID parses the canonical string form of a node id:
//
//	i=84
//	ns=1;s=Temperature
//	ns=2;g=72962B91-FA75-4AE6-8D28-B404DC7DAF63
//	ns=3;b=M/RbKBsRVkePCePcx24oRA==
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimSpace(s)
	var ns uint64
	if strings.HasPrefix(s, "ns=") {
		idx := strings.IndexByte(s, ';')
		if idx < 0 {
			return NodeID{}, fmt.Errorf("%w: %q: missing ';' after namespace", ErrInvalidNodeID, s)
		}
		var err error
		ns, err = strconv.ParseUint(s[3:idx], 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: namespace: %v", ErrInvalidNodeID, s, err)
		}
		s = s[idx+1:]
	}

	if len(s) < 2 || s[1] != '=' {
		return NodeID{}, fmt.Errorf("%w: %q: missing identifier type", ErrInvalidNodeID, s)
	}
	value := s[2:]

	switch s[0] {
	case 'i':
		v, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: numeric identifier: %v", ErrInvalidNodeID, s, err)
		}
		return NewNumericNodeID(uint16(ns), uint32(v)), nil
	case 's':
		if value == "" {
			return NodeID{}, fmt.Errorf("%w: empty string identifier", ErrInvalidNodeID)
		}
		return NewStringNodeID(uint16(ns), value), nil
	case 'g':
		guid, err := parseGUID(value)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NewGUIDNodeID(uint16(ns), guid), nil
	case 'b':
		b, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: %q: %v", ErrInvalidNodeID, s, err)
		}
		return NewOpaqueNodeID(uint16(ns), b), nil
	default:
		return NodeID{}, fmt.Errorf("%w: %q: unknown identifier type %q", ErrInvalidNodeID, s, s[0])
	}
}

// MustParseNodeID is like ParseNodeID but panics on error. Intended for constants and tests.
func MustParseNodeID(s string) NodeID {
	id, err := ResolveNodeID(s)
	if err != nil {
		panic(err)
	}

	return id
}

// ResolveNodeID accepts either a well-known alias ("RootFolder", "ObjectsFolder", ...) or the
// canonical string form.
func ResolveNodeID(s string) (NodeID, error) {
	if id, ok := wellKnownAliases[strings.TrimSpace(s)]; ok {
		return id, nil
	}

	return ParseNodeID(s)
}

func parseGUID(s string) ([16]byte, error) {
	var guid [16]byte
	raw := strings.ReplaceAll(s, "-", "")
	if len(raw) != 32 {
		return guid, errors.New("guid must have 32 hex digits")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return guid, err
	}
	copy(guid[:], b)

	return guid, nil
}

func formatGUID(g [16]byte) string {
	h := strings.ToUpper(hex.EncodeToString(g[:]))
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}
