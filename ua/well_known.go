package ua

// Well-known nodes of namespace 0.
var (
	RootFolderID    = NewNumericNodeID(0, 84)
	ObjectsFolderID = NewNumericNodeID(0, 85)
	TypesFolderID   = NewNumericNodeID(0, 86)
	ViewsFolderID   = NewNumericNodeID(0, 87)
	ServerID        = NewNumericNodeID(0, 2253)
	FolderTypeID    = NewNumericNodeID(0, 61)
)

// Well-known reference types of namespace 0.
var (
	HierarchicalReferencesID = NewNumericNodeID(0, 33)
	OrganizesID              = NewNumericNodeID(0, 35)
	HasTypeDefinitionID      = NewNumericNodeID(0, 40)
	HasPropertyID            = NewNumericNodeID(0, 46)
	HasComponentID           = NewNumericNodeID(0, 47)
)

var wellKnownAliases = map[string]NodeID{
	"RootFolder":    RootFolderID,
	"ObjectsFolder": ObjectsFolderID,
	"TypesFolder":   TypesFolderID,
	"ViewsFolder":   ViewsFolderID,
	"Server":        ServerID,
}
