package gateway

import (
	"encoding/json"
	"time"

	"github.com/c360/semlive/errors"
	"github.com/c360/semlive/live"
)

// Request types sent by viewers.
const (
	RequestSubscribe   = "subscribe"
	RequestUnsubscribe = "unsubscribe"
	RequestPresence    = "presence"
	RequestPublish     = "publish"
)

// Reply types sent to viewers.
const (
	ReplyAck      = "ack"
	ReplyStatus   = "status"
	ReplyMessage  = "message"
	ReplyFrame    = "frame"
	ReplyPresence = "presence"
	ReplyError    = "error"
)

// Request is one viewer command. Frames asks a subscription for merged,
// throttled frame snapshots instead of raw messages; Fields then limits the
// snapshot columns.
type Request struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data,omitempty"`
	Frames  bool            `json:"frames,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
}

// Reply is one message to a viewer.
type Reply struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

func errorReply(req Request, err error) Reply {
	return Reply{
		Type:      ReplyError,
		ID:        req.ID,
		Channel:   req.Channel,
		Error:     err.Error(),
		Kind:      errors.Kind(err),
		Timestamp: time.Now().UnixMilli(),
	}
}

// eventReply converts a channel stream event.
func eventReply(addr live.Address, ev live.Event) Reply {
	r := Reply{Channel: addr.String(), Timestamp: ev.Time.UnixMilli()}
	if ev.Time.IsZero() {
		r.Timestamp = time.Now().UnixMilli()
	}

	switch ev.Type {
	case live.EventStatus:
		r.Type = ReplyStatus
		r.Status = ev.Status.String()
		if ev.Err != nil {
			r.Error = ev.Err.Error()
			r.Kind = errors.Kind(ev.Err)
		}
	default:
		r.Type = ReplyMessage
		switch {
		case ev.Message != nil:
			r.Data = ev.Message
		case json.Valid(ev.Data):
			r.Data = json.RawMessage(ev.Data)
		default:
			r.Data = string(ev.Data)
		}
	}
	return r
}
