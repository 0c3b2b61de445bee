// Package audit posts short notices about device changes to an optional
// audit room, so operators can follow what the bot did to which router
// without reading the SQLite audit log.
//
// Every notice carries the trace ID of the originating chat command.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Netbot/common/trace"
)

// Kind is a machine-readable event category.
type Kind string

const (
	KindTransportSelected Kind = "transport.selected"
	KindInterfaceChanged  Kind = "interface.changed"
	KindInterfaceChecked  Kind = "interface.checked"
	KindRejected          Kind = "interface.rejected"
	KindReport            Kind = "device.report"
	KindBannerSet         Kind = "device.banner"
	KindError             Kind = "error"
)

// Event carries the data the notifier formats.
type Event struct {
	Kind Kind
	// Actor is the chat identifier that issued the command.
	Actor string
	// Device is the router address, empty for transport selection.
	Device    string
	Interface string
	// Transport names the path used (restconf, netconf, ssh, ansible).
	Transport string
	Message   string
	// TraceID defaults to the trace ID carried by the context.
	TraceID   string
	Timestamp time.Time
}

// Notifier sends audit room notifications. Implementations must not block
// the caller for long; send failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sender is the subset of the chat client needed by RoomNotifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// RoomNotifier posts formatted notices to a chat room.
type RoomNotifier struct {
	sender Sender
	roomID string
}

// NewRoomNotifier creates a RoomNotifier that posts to roomID via sender.
func NewRoomNotifier(sender Sender, roomID string) *RoomNotifier {
	return &RoomNotifier{sender: sender, roomID: roomID}
}

// Notify formats evt and posts it to the audit room.
func (n *RoomNotifier) Notify(ctx context.Context, evt Event) {
	if n.roomID == "" {
		return
	}
	if evt.TraceID == "" {
		evt.TraceID = trace.FromContext(ctx)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	msg := Render(evt)
	if err := n.sender.SendNotice(ctx, n.roomID, msg); err != nil {
		slog.Warn("audit notifier: failed to send room notice",
			"room", n.roomID, "kind", evt.Kind, "err", err)
		return
	}
	slog.Debug("audit notifier: sent notice", "room", n.roomID, "kind", evt.Kind)
}

// Render formats evt as a notice, for example:
//
//	✅ Loopback66070273 @ 10.0.15.61 → created (restconf)
//	  trace: t_...
//	  actor: 66070273
func Render(evt Event) string {
	var sb strings.Builder
	sb.WriteString(kindIcon(evt.Kind))
	sb.WriteString(" ")
	switch {
	case evt.Interface != "" && evt.Device != "":
		fmt.Fprintf(&sb, "%s @ %s → %s", evt.Interface, evt.Device, evt.Message)
	case evt.Device != "":
		fmt.Fprintf(&sb, "%s → %s", evt.Device, evt.Message)
	default:
		fmt.Fprintf(&sb, "[%s] %s", evt.Kind, evt.Message)
	}
	if evt.Transport != "" {
		fmt.Fprintf(&sb, " (%s)", evt.Transport)
	}
	if evt.TraceID != "" {
		fmt.Fprintf(&sb, "\n  trace: %s", evt.TraceID)
	}
	if evt.Actor != "" {
		fmt.Fprintf(&sb, "\n  actor: %s", evt.Actor)
	}
	return sb.String()
}

// Noop is used when no audit room is configured.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, Event) {}

func kindIcon(k Kind) string {
	switch k {
	case KindTransportSelected:
		return "🔀"
	case KindInterfaceChanged:
		return "✅"
	case KindInterfaceChecked:
		return "🔎"
	case KindRejected:
		return "⛔"
	case KindReport:
		return "📄"
	case KindBannerSet:
		return "📝"
	case KindError:
		return "🚨"
	default:
		return "ℹ️"
	}
}
