package scope

import (
	"context"
	"maps"
	"slices"
	"strings"
)

// Core namespaces.
const (
	NamespaceBroadcast = "broadcast"
	NamespaceDashboard = "dashboard"
	NamespaceTestData  = "testdata"
)

// CoreScope serves the fixed set of namespaces built into the process.
type CoreScope struct {
	supports map[string]Support
}

// NewCoreScope creates the core scope with the broadcast, dashboard and
// testdata namespaces.
func NewCoreScope() *CoreScope {
	return &CoreScope{supports: map[string]Support{
		NamespaceBroadcast: SupportFunc(broadcastConfig),
		NamespaceDashboard: SupportFunc(dashboardConfig),
		NamespaceTestData:  testDataSupport,
	}}
}

// ChannelSupport returns the built-in support for namespace, or nil.
func (s *CoreScope) ChannelSupport(_ context.Context, namespace string) (Support, error) {
	return s.supports[namespace], nil
}

// Namespaces lists the built-in namespaces in sorted order.
func (s *CoreScope) Namespaces() []string {
	return slices.Sorted(maps.Keys(s.supports))
}

func broadcastConfig(path string) *ChannelConfig {
	if path == "" {
		return nil
	}
	return &ChannelConfig{
		Path:        path,
		Description: "Broadcast any messages to any client",
		CanPublish:  true,
		HasPresence: true,
	}
}

// dashboardConfig accepts uid/<uid> only.
func dashboardConfig(path string) *ChannelConfig {
	uid, ok := strings.CutPrefix(path, "uid/")
	if !ok || uid == "" || strings.Contains(uid, "/") {
		return nil
	}
	return &ChannelConfig{
		Path:        path,
		Description: "Dashboard change events",
		CanPublish:  true,
		HasPresence: true,
	}
}

var testDataSupport = StaticSupport{
	"random-2s-stream": {
		Description:    "Random stream with points every 2s",
		HasInitialData: true,
	},
	"random-flakey-stream": {
		Description:    "Stream that returns data in random intervals",
		HasInitialData: true,
	},
	"random-20Hz-stream": {
		Description:    "Random stream with points in 20Hz",
		HasInitialData: true,
	},
}
