package canhw

import "fmt"

type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventFatalDisconnect
	EventHardwareReady
	EventChannelReady
	EventMessageReceived
	EventStatusChanged
	EventChannelClosed
	EventHardwareClosed
	// EventError carries an asynchronous driver failure, e.g. a broken
	// serial line detected by a reader goroutine.
	EventError
)

func (et EventType) String() string {
	switch et {
	case EventConnect:
		return "CONNECT"
	case EventDisconnect:
		return "DISCONNECT"
	case EventFatalDisconnect:
		return "FATAL_DISCONNECT"
	case EventHardwareReady:
		return "HW_READY"
	case EventChannelReady:
		return "CH_READY"
	case EventMessageReceived:
		return "RECEIVE"
	case EventStatusChanged:
		return "STATUS"
	case EventChannelClosed:
		return "CH_CLOSED"
	case EventHardwareClosed:
		return "HW_CLOSED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the descriptor a driver pushes when something happens on its
// side. It only signals; frames are fetched with Device.Read.
type Event struct {
	Type    EventType
	Channel Channel
	// DeviceID is the driver handle of the affected unit for
	// EventFatalDisconnect.
	DeviceID uint32
	Err      error
}

func (e Event) String() string {
	switch e.Type {
	case EventFatalDisconnect:
		return fmt.Sprintf("[%s] device %d", e.Type, e.DeviceID)
	case EventChannelReady, EventMessageReceived, EventStatusChanged, EventChannelClosed:
		return fmt.Sprintf("[%s] %s", e.Type, e.Channel)
	case EventError:
		return fmt.Sprintf("[%s] %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("[%s]", e.Type)
	}
}

// EventSink accepts events from driver context. Post must never block.
type EventSink interface {
	Post(Event) bool
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event) bool

func (f EventSinkFunc) Post(ev Event) bool { return f(ev) }

type discardSink struct{}

func (discardSink) Post(Event) bool { return true }

// Discard drops every event.
var Discard EventSink = discardSink{}
