// Package ua defines the OPC UA data model shared by the client components and the remote
// service implementations: node identifiers, attribute ids, status codes, values, browse
// references and the subscription / monitoring parameters.
//
// The types are plain values. They carry no protocol encoding; the remote implementations
// translate them to whatever the transport uses.
//
// NodeID:
//
// A NodeID is comparable and can be used as a map key. It can be parsed from the canonical
// string form or from a well-known alias:
//
//	id, err := ua.ParseNodeID("ns=1;s=Temperature")
//	root, err := ua.ResolveNodeID("RootFolder") // i=84
package ua
