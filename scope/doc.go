// Package scope resolves the capabilities of a live channel from its scope,
// namespace and path.
//
// A channel address has the form scope/namespace/path. Four scopes exist:
//
//	grafana  core namespaces shipped with the process (broadcast, dashboard, testdata)
//	ds       one namespace per registered datasource uid
//	plugin   one namespace per registered plugin id
//	stream   ad hoc streams; any namespace, any non-empty path
//
// Each Scope maps a namespace to a Support, and a Support maps a path to a
// ChannelConfig. A nil Support or nil ChannelConfig means "not found" rather than
// an error; Resolver.Resolve turns those into the typed errors
// ErrUnsupportedNamespace and ErrUnknownPath.
package scope
