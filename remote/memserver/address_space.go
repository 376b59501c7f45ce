package memserver

import (
	"fmt"

	"github.com/arloliu/go-uaclient/ua"
)

// TemperatureID is the variable of the demo address space, initially 21.5.
var TemperatureID = ua.NewStringNodeID(1, "Temperature")

type node struct {
	id          ua.NodeID
	class       ua.NodeClass
	browseName  ua.QualifiedName
	displayName ua.LocalizedText
	typeDef     ua.NodeID
	refs        []ua.ReferenceDescription
	value       ua.DataValue
	readable    bool
}

func (n *node) describe(refType ua.NodeID) ua.ReferenceDescription {
	return ua.ReferenceDescription{
		ReferenceTypeID: refType,
		IsForward:       true,
		NodeID:          n.id,
		BrowseName:      n.browseName,
		DisplayName:     n.displayName,
		NodeClass:       n.class,
		TypeDefinition:  n.typeDef,
	}
}

// attribute returns the value of attribute attr, or a bad status.
func (n *node) attribute(attr ua.AttributeID) ua.DataValue {
	switch attr {
	case ua.AttributeNodeID:
		return ua.DataValue{Value: ua.Variant{Type: ua.TypeString, Value: n.id.String()}}
	case ua.AttributeNodeClass:
		return ua.DataValue{Value: ua.MustVariant(int32(n.class))}
	case ua.AttributeBrowseName:
		return ua.DataValue{Value: ua.MustVariant(n.browseName.String())}
	case ua.AttributeDisplayName:
		return ua.DataValue{Value: ua.MustVariant(n.displayName.Text)}
	case ua.AttributeValue:
		if n.class != ua.NodeClassVariable {
			return ua.DataValue{Status: ua.StatusBadAttributeIDInvalid}
		}
		if !n.readable {
			return ua.DataValue{Status: ua.StatusBadNotReadable}
		}
		return n.value
	default:
		return ua.DataValue{Status: ua.StatusBadAttributeIDInvalid}
	}
}

type addressSpace struct {
	nodes map[ua.NodeID]*node
}

// newAddressSpace builds the demo address space:
//
//	RootFolder (i=84)
//	├── Objects (i=85)
//	│   ├── Server (i=2253)
//	│   └── Demo (ns=1;s=Demo)
//	│       ├── Temperature (ns=1;s=Temperature) = 21.5
//	│       └── Secret (ns=1;s=Secret), not readable
//	├── Types (i=86)
//	└── Views (i=87)
func newAddressSpace() *addressSpace {
	as := &addressSpace{nodes: make(map[ua.NodeID]*node)}

	as.addFolder(ua.NodeID{}, ua.RootFolderID, "Root")
	as.addFolder(ua.RootFolderID, ua.ObjectsFolderID, "Objects")
	as.addFolder(ua.RootFolderID, ua.TypesFolderID, "Types")
	as.addFolder(ua.RootFolderID, ua.ViewsFolderID, "Views")
	as.add(ua.ObjectsFolderID, &node{
		id:          ua.ServerID,
		class:       ua.NodeClassObject,
		browseName:  ua.QualifiedName{Name: "Server"},
		displayName: ua.LocalizedText{Text: "Server"},
		typeDef:     ua.NewNumericNodeID(0, 2004),
	})

	demo := ua.NewStringNodeID(1, "Demo")
	as.addFolder(ua.ObjectsFolderID, demo, "Demo")
	as.addVariable(demo, TemperatureID, "Temperature", ua.MustVariant(21.5), true)
	as.addVariable(demo, ua.NewStringNodeID(1, "Secret"), "Secret", ua.MustVariant("hidden"), false)

	return as
}

func (as *addressSpace) add(parent ua.NodeID, n *node) {
	as.nodes[n.id] = n
	if p, ok := as.nodes[parent]; ok && !parent.IsNull() {
		refType := ua.OrganizesID
		if p.class == ua.NodeClassObject && n.class == ua.NodeClassVariable {
			refType = ua.HasComponentID
		}
		p.refs = append(p.refs, n.describe(refType))
	}
}

func (as *addressSpace) addFolder(parent, id ua.NodeID, name string) {
	ns := id.Namespace
	as.add(parent, &node{
		id:          id,
		class:       ua.NodeClassObject,
		browseName:  ua.QualifiedName{NamespaceIndex: ns, Name: name},
		displayName: ua.LocalizedText{Text: name},
		typeDef:     ua.FolderTypeID,
	})
}

func (as *addressSpace) addVariable(parent, id ua.NodeID, name string, v ua.Variant, readable bool) {
	as.add(parent, &node{
		id:          id,
		class:       ua.NodeClassVariable,
		browseName:  ua.QualifiedName{NamespaceIndex: id.Namespace, Name: name},
		displayName: ua.LocalizedText{Text: name},
		typeDef:     ua.NewNumericNodeID(0, 63), // BaseDataVariableType
		value:       ua.DataValue{Value: v, Status: ua.StatusOK},
		readable:    readable,
	})
}

func (as *addressSpace) lookup(id ua.NodeID) (*node, error) {
	n, ok := as.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ua.StatusBadNodeIDUnknown)
	}

	return n, nil
}
