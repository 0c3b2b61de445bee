package commands

import "fmt"

// Fixed replies. They are part of the chat contract and must not change.
const (
	MsgNoMethod        = "Error: No method specified"
	MsgNoIP            = "Error: No IP specified"
	MsgNoCommand       = "Error: No command found."
	MsgRunnerFailed    = "Error: Ansible"
	MsgNoMotd          = "Error: No MOTD Configured"
	MsgBannerApplied   = "Ok: success"
	ShowRunFileCaption = "show running config"
)

var successVerb = map[Operation]string{
	OpCreate:  "created",
	OpDelete:  "deleted",
	OpEnable:  "enabled",
	OpDisable: "shutdowned",
}

var cannotVerb = map[Operation]string{
	OpCreate:  "create",
	OpDelete:  "delete",
	OpEnable:  "enable",
	OpDisable: "shutdown",
}

// FormatAck is the reply to a transport selection.
func FormatAck(t Transport) string {
	return "Ok: " + t.DisplayName()
}

// FormatError is the reply to a transport fault.
func FormatError(detail string) string {
	return "Error: " + detail
}

// Format renders the reply for a device operation outcome.
func Format(op Operation, userID string, t Transport, o Outcome) string {
	iface := "Interface loopback " + userID
	by := t.DisplayName()
	checked := fmt.Sprintf("(checked by %s)", by)

	if o.Kind == OutcomeTransportError {
		return FormatError(o.Detail)
	}

	if op == OpStatus {
		switch o.Kind {
		case OutcomeStatusAbsent:
			return fmt.Sprintf("No %s %s", iface, checked)
		case OutcomeStatusUp:
			return fmt.Sprintf("%s is enabled %s", iface, checked)
		case OutcomeStatusDown:
			return fmt.Sprintf("%s is disabled %s", iface, checked)
		default:
			return fmt.Sprintf("%s is %s %s", iface, o.Detail, checked)
		}
	}

	verb, ok := cannotVerb[op]
	if !ok {
		return MsgNoCommand
	}
	if o.Success() {
		return fmt.Sprintf("%s is %s successfully using %s", iface, successVerb[op], by)
	}
	msg := fmt.Sprintf("Cannot %s: %s", verb, iface)
	if op == OpDisable && (o.Kind == OutcomeNotFound || o.Kind == OutcomeStatusAbsent) {
		msg += " " + checked
	}
	return msg
}
