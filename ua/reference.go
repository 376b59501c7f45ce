package ua

import "fmt"

// NodeClass represents the OPC UA node class.
type NodeClass uint32

// OPC UA node classes.
const (
	NodeClassUnspecified   NodeClass = 0
	NodeClassObject        NodeClass = 1
	NodeClassVariable      NodeClass = 2
	NodeClassMethod        NodeClass = 4
	NodeClassObjectType    NodeClass = 8
	NodeClassVariableType  NodeClass = 16
	NodeClassReferenceType NodeClass = 32
	NodeClassDataType      NodeClass = 64
	NodeClassView          NodeClass = 128
)

// String returns the node class name.
func (n NodeClass) String() string {
	switch n {
	case NodeClassUnspecified:
		return "Unspecified"
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	case NodeClassObjectType:
		return "ObjectType"
	case NodeClassVariableType:
		return "VariableType"
	case NodeClassReferenceType:
		return "ReferenceType"
	case NodeClassDataType:
		return "DataType"
	case NodeClassView:
		return "View"
	default:
		return fmt.Sprintf("NodeClass(%d)", uint32(n))
	}
}

// QualifiedName is a name qualified by a namespace index.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// String renders "ns:Name", or "Name" for namespace 0, as OPC UA tools do.
func (q QualifiedName) String() string {
	if q.NamespaceIndex == 0 {
		return q.Name
	}

	return fmt.Sprintf("%d:%s", q.NamespaceIndex, q.Name)
}

// LocalizedText is a human readable text with an optional locale.
type LocalizedText struct {
	Locale string
	Text   string
}

// ReferenceDescription describes one reference returned by a browse call.
type ReferenceDescription struct {
	ReferenceTypeID NodeID
	IsForward       bool
	NodeID          NodeID
	BrowseName      QualifiedName
	DisplayName     LocalizedText
	NodeClass       NodeClass
	TypeDefinition  NodeID
}

// BrowseResult is the outcome of browsing one node. References keep the server order.
type BrowseResult struct {
	Status            StatusCode
	ContinuationPoint []byte
	References        []ReferenceDescription
}

// HasMore reports whether the server signalled further references behind a continuation point.
func (r *BrowseResult) HasMore() bool {
	return len(r.ContinuationPoint) > 0
}

// BrowseNames returns the browse names of all references, in order.
func (r *BrowseResult) BrowseNames() []string {
	names := make([]string, 0, len(r.References))
	for _, ref := range r.References {
		names = append(names, ref.BrowseName.String())
	}

	return names
}
