package gateway

import (
	"net/http"

	"github.com/c360/semlive/live"
)

// HTTPHandler is implemented by anything that mounts routes on the binary's
// HTTP server.
type HTTPHandler interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// ChannelSource hands out live channels. *live.Registry implements it.
type ChannelSource interface {
	GetChannel(addr live.Address) *live.Channel
	Channels() []live.ChannelInfo
}

var _ ChannelSource = (*live.Registry)(nil)
