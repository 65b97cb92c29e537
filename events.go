package lbclient

import (
	"io"

	"github.com/little-brother/lbclient/internal/events"
)

// Event is one notification emitted by the client.
type Event = events.Event

// EventType names an Event kind.
type EventType = events.Type

// Event types. The update-* types mirror the refresh hints the web frontend
// broadcasts between views.
const (
	EventUpdateUser              EventType = "update-user"
	EventUpdateUserList          EventType = "update-user-list"
	EventUpdateUserAdminDetails  EventType = "update-user-admin-details"
	EventUpdateUserStatusDetails EventType = "update-user-status-details"
	EventLogin                   EventType = "login"
	EventLogout                  EventType = "logout"
	EventRefresh                 EventType = "refresh"
	EventLoginRequired           EventType = "login-required"
)

// EventSink receives events from the client's dispatcher goroutine.
type EventSink = events.Sink

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc = events.SinkFunc

// NoOpSink discards events.
type NoOpSink = events.NoOpSink

// ChannelSink buffers events in a channel.
type ChannelSink = events.ChannelSink

// JSONWriterSink writes events as JSON lines.
type JSONWriterSink = events.JSONWriterSink

// NewChannelSink returns a sink buffering up to buffer events.
func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON line per event to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

// newEvent is events.New with the acting user filled in.
func (c *Client) newEvent(t EventType) Event {
	e := events.New(t)
	e.UserID = c.session.UserID()
	return e
}
