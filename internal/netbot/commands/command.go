// Package commands turns chat lines into device operations: it parses a line
// into a Command, keeps the per-user transport selection, dispatches to the
// selected transport and formats the canonical outcome as chat text.
package commands

import (
	"errors"
	"strings"
)

// Kind classifies a parsed command line.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindSelectTransport
	KindDeviceOp
)

func (k Kind) String() string {
	switch k {
	case KindSelectTransport:
		return "select-transport"
	case KindDeviceOp:
		return "device-op"
	default:
		return "unrecognized"
	}
}

// Transport identifies a device transport a user can select.
type Transport int

const (
	TransportNone Transport = iota
	TransportRestconf
	TransportNetconf
)

// ParseTransport maps a chat literal (case-insensitive) to a Transport.
func ParseTransport(s string) (Transport, bool) {
	switch strings.ToLower(s) {
	case "restconf":
		return TransportRestconf, true
	case "netconf":
		return TransportNetconf, true
	}
	return TransportNone, false
}

// String returns the lower-case chat literal.
func (t Transport) String() string {
	switch t {
	case TransportRestconf:
		return "restconf"
	case TransportNetconf:
		return "netconf"
	default:
		return ""
	}
}

// DisplayName is the capitalised name used in replies ("Restconf").
func (t Transport) DisplayName() string {
	s := t.String()
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Operation is the lower-cased operation token of a device command. Unknown
// names are kept verbatim so the dispatcher can reject them uniformly.
type Operation string

const (
	OpCreate        Operation = "create"
	OpDelete        Operation = "delete"
	OpEnable        Operation = "enable"
	OpDisable       Operation = "disable"
	OpStatus        Operation = "status"
	OpShowRun       Operation = "showrun"
	OpGigabitStatus Operation = "gigabit_status"
	OpMotd          Operation = "motd"
)

var validOperations = map[Operation]struct{}{
	OpCreate: {}, OpDelete: {}, OpEnable: {}, OpDisable: {}, OpStatus: {},
	OpShowRun: {}, OpGigabitStatus: {}, OpMotd: {},
}

// Valid reports whether op is one of the supported operations.
func (op Operation) Valid() bool {
	_, ok := validOperations[op]
	return ok
}

// NeedsTransport reports whether op runs through the user's selected device
// transport. Reporting operations use a fixed automation path instead.
func (op Operation) NeedsTransport() bool {
	switch op {
	case OpShowRun, OpGigabitStatus, OpMotd:
		return false
	}
	return true
}

// Command is the parsed intent of one chat line.
type Command struct {
	UserID     string
	Kind       Kind
	Transport  Transport
	Address    string
	Operation  Operation
	BannerText string
	RawText    string
}

// ErrNotACommand is returned by Parse for lines that are not addressed to
// anyone: empty text, no "/" prefix, an empty identifier or a lone "/id".
// The poll loop drops these silently.
var ErrNotACommand = errors.New("not a command")

// Parse turns one chat line into a Command.
//
// Accepted shapes:
//
//	/<id> restconf|netconf
//	/<id> <a.b.c.d> <operation> [banner text...]
//
// Any other line with a "/<id>" prefix and at least two tokens yields a
// KindUnrecognized command whose Operation is the lower-cased second token.
func Parse(line string) (*Command, error) {
	text := strings.TrimSpace(line)
	parts := strings.Fields(text)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "/") {
		return nil, ErrNotACommand
	}
	userID := parts[0][1:]
	if userID == "" {
		return nil, ErrNotACommand
	}

	cmd := &Command{UserID: userID, RawText: text}

	if len(parts) == 2 {
		if t, ok := ParseTransport(parts[1]); ok {
			cmd.Kind = KindSelectTransport
			cmd.Transport = t
			return cmd, nil
		}
	}

	if strings.Count(parts[1], ".") == 3 {
		cmd.Kind = KindDeviceOp
		cmd.Address = parts[1]
		if len(parts) >= 3 {
			cmd.Operation = Operation(strings.ToLower(parts[2]))
		}
		if cmd.Operation == OpMotd {
			// The banner may contain spaces, so re-split the original line
			// into at most four fields.
			fields := splitN(text, 4)
			if len(fields) == 4 {
				cmd.BannerText = strings.TrimSpace(fields[3])
			}
		}
		return cmd, nil
	}

	cmd.Kind = KindUnrecognized
	cmd.Operation = Operation(strings.ToLower(parts[1]))
	return cmd, nil
}

// splitN splits s on runs of whitespace into at most n fields; the last field
// keeps the remainder of the line with its internal spacing.
func splitN(s string, n int) []string {
	var out []string
	rest := strings.TrimLeft(s, " \t")
	for len(out) < n-1 && rest != "" {
		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			break
		}
		out = append(out, rest[:i])
		rest = strings.TrimLeft(rest[i:], " \t")
	}
	if rest != "" {
		out = append(out, rest)
	}
	return out
}
