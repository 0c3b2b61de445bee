package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Netbot/common/redact"
	"github.com/bdobrica/Netbot/common/trace"
	"github.com/bdobrica/Netbot/internal/netbot/audit"
	"github.com/bdobrica/Netbot/internal/netbot/device"
	"github.com/bdobrica/Netbot/internal/netbot/observability"
)

// ReplyKind says what, if anything, goes back to the chat room.
type ReplyKind int

const (
	ReplyNone ReplyKind = iota
	ReplyText
	ReplyFile
)

// Reply is the side effect of handling one command.
type Reply struct {
	Kind     ReplyKind
	Text     string
	FilePath string
	Caption  string
}

func textReply(s string) Reply { return Reply{Kind: ReplyText, Text: s} }

// DefaultDeviceTimeout bounds one transport call when Config leaves it zero.
const DefaultDeviceTimeout = 60 * time.Second

// Config holds the dispatcher dependencies.
type Config struct {
	// OwnerID is the only user the bot answers.
	OwnerID string
	// AllowedAddresses restricts device addresses; nil allows any.
	AllowedAddresses map[string]struct{}
	DeviceTimeout    time.Duration
	// RunnerTimeout bounds config-runner calls; zero leaves the runner's own
	// timeout in charge.
	RunnerTimeout time.Duration

	Sessions *SessionStore
	Restconf DeviceTransport
	Netconf  DeviceTransport
	Runner   ConfigRunner
	CLI      CLI

	Audit    AuditRecorder
	Notifier audit.Notifier
	// Secrets are scrubbed from error details before they reach chat.
	Secrets []string
}

// Dispatcher decides what to do with a parsed command.
type Dispatcher struct {
	cfg   Config
	locks keyedMutex
}

// NewDispatcher validates cfg and returns a Dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewSessionStore()
	}
	if cfg.DeviceTimeout <= 0 {
		cfg.DeviceTimeout = DefaultDeviceTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = audit.Noop{}
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Sessions exposes the session store (used by the status endpoint).
func (d *Dispatcher) Sessions() *SessionStore { return d.cfg.Sessions }

// Handle runs cmd and returns the reply. Lines from anyone but the owner
// produce ReplyNone.
func (d *Dispatcher) Handle(ctx context.Context, cmd *Command) Reply {
	if cmd == nil || cmd.UserID != d.cfg.OwnerID {
		return Reply{}
	}
	ctx, _ = trace.Ensure(ctx)

	if cmd.Kind == KindSelectTransport {
		d.cfg.Sessions.Set(cmd.UserID, cmd.Transport)
		d.record(ctx, cmd, "transport_selected", "")
		d.cfg.Notifier.Notify(ctx, audit.Event{
			Kind:    audit.KindTransportSelected,
			Actor:   cmd.UserID,
			Message: cmd.Transport.String(),
		})
		return textReply(FormatAck(cmd.Transport))
	}

	if cmd.Operation.Valid() && !cmd.Operation.NeedsTransport() {
		return d.handleReport(ctx, cmd)
	}
	return d.handleDeviceOp(ctx, cmd)
}

// validate applies the ordered preconditions shared by every device
// command and returns the rejection text, or "" when cmd may proceed.
func (d *Dispatcher) validate(cmd *Command) string {
	if !cmd.Operation.Valid() {
		return MsgNoCommand
	}
	if cmd.Address == "" {
		return MsgNoIP
	}
	if d.cfg.AllowedAddresses != nil {
		if _, ok := d.cfg.AllowedAddresses[cmd.Address]; !ok {
			return MsgNoIP
		}
	}
	return ""
}

func (d *Dispatcher) handleDeviceOp(ctx context.Context, cmd *Command) Reply {
	log := observability.WithTrace(ctx).With("op", string(cmd.Operation), "address", cmd.Address)

	if msg := d.validate(cmd); msg != "" {
		log.Info("command rejected", "reason", msg)
		d.record(ctx, cmd, "rejected", msg)
		return textReply(msg)
	}
	t, ok := d.cfg.Sessions.Get(cmd.UserID)
	if !ok {
		log.Info("command rejected", "reason", MsgNoMethod)
		d.record(ctx, cmd, "rejected", MsgNoMethod)
		return textReply(MsgNoMethod)
	}

	var tr DeviceTransport
	switch t {
	case TransportRestconf:
		tr = d.cfg.Restconf
	case TransportNetconf:
		tr = d.cfg.Netconf
	}
	if tr == nil {
		log.Warn("command rejected: transport not configured", "transport", t.String())
		d.record(ctx, cmd, "rejected", MsgNoMethod)
		return textReply(MsgNoMethod)
	}

	unlock := d.locks.lock(cmd.UserID + "|" + cmd.Address)
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeviceTimeout)
	defer cancel()

	start := time.Now()
	raw, err := invoke(callCtx, tr, cmd.Operation, cmd.Address, cmd.UserID)
	var o Outcome
	if err != nil {
		detail := redact.Error(err, d.cfg.Secrets...)
		log.Warn("device call failed", "transport", t.String(), "err", detail)
		o = FromError(detail)
	} else {
		o = Normalize(cmd.Operation, raw)
	}
	log.Info("device call finished",
		"transport", t.String(),
		"outcome", o.Kind.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	d.recordOutcome(ctx, cmd, t, o)
	return textReply(Format(cmd.Operation, cmd.UserID, t, o))
}

func (d *Dispatcher) handleReport(ctx context.Context, cmd *Command) Reply {
	log := observability.WithTrace(ctx).With("op", string(cmd.Operation), "address", cmd.Address)

	if msg := d.validate(cmd); msg != "" {
		log.Info("command rejected", "reason", msg)
		d.record(ctx, cmd, "rejected", msg)
		return textReply(msg)
	}

	unlock := d.locks.lock(cmd.UserID + "|" + cmd.Address)
	defer unlock()

	switch {
	case cmd.Operation == OpShowRun:
		return d.showRun(ctx, cmd)
	case cmd.Operation == OpGigabitStatus:
		return d.portSummary(ctx, cmd)
	case cmd.BannerText != "":
		return d.setBanner(ctx, cmd)
	default:
		return d.readBanner(ctx, cmd)
	}
}

func (d *Dispatcher) runnerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.RunnerTimeout > 0 {
		return context.WithTimeout(ctx, d.cfg.RunnerTimeout)
	}
	return context.WithCancel(ctx)
}

func (d *Dispatcher) showRun(ctx context.Context, cmd *Command) Reply {
	if d.cfg.Runner == nil {
		return textReply(MsgRunnerFailed)
	}
	callCtx, cancel := d.runnerContext(ctx)
	defer cancel()

	res, err := d.cfg.Runner.ShowRunningConfig(callCtx, cmd.Address, cmd.UserID)
	if err != nil || !res.OK || res.FilePath == "" {
		d.reportFailure(ctx, cmd, "ansible", err)
		return textReply(MsgRunnerFailed)
	}
	d.record(ctx, cmd, "report_saved", "")
	d.cfg.Notifier.Notify(ctx, audit.Event{
		Kind:      audit.KindReport,
		Actor:     cmd.UserID,
		Device:    cmd.Address,
		Transport: "ansible",
		Message:   fmt.Sprintf("running config of %s saved", displayDevice(res)),
	})
	return Reply{Kind: ReplyFile, FilePath: res.FilePath, Caption: ShowRunFileCaption}
}

func (d *Dispatcher) setBanner(ctx context.Context, cmd *Command) Reply {
	if d.cfg.Runner == nil {
		return textReply(MsgRunnerFailed)
	}
	callCtx, cancel := d.runnerContext(ctx)
	defer cancel()

	ok, err := d.cfg.Runner.SetBanner(callCtx, cmd.Address, cmd.BannerText)
	if err != nil || !ok {
		d.reportFailure(ctx, cmd, "ansible", err)
		return textReply(MsgRunnerFailed)
	}
	d.record(ctx, cmd, "banner_set", "")
	d.cfg.Notifier.Notify(ctx, audit.Event{
		Kind:      audit.KindBannerSet,
		Actor:     cmd.UserID,
		Device:    cmd.Address,
		Transport: "ansible",
		Message:   "motd updated",
	})
	return textReply(MsgBannerApplied)
}

func (d *Dispatcher) portSummary(ctx context.Context, cmd *Command) Reply {
	if d.cfg.CLI == nil {
		return textReply(FormatError("ssh transport not configured"))
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeviceTimeout)
	defer cancel()

	summary, err := d.cfg.CLI.PortSummary(callCtx, cmd.Address)
	if err != nil {
		detail := d.reportFailure(ctx, cmd, "ssh", err)
		return textReply(FormatError(detail))
	}
	d.record(ctx, cmd, "report", "")
	return textReply(summary)
}

func (d *Dispatcher) readBanner(ctx context.Context, cmd *Command) Reply {
	if d.cfg.CLI == nil {
		return textReply(FormatError("ssh transport not configured"))
	}
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeviceTimeout)
	defer cancel()

	banner, err := d.cfg.CLI.ReadBanner(callCtx, cmd.Address)
	if err != nil {
		detail := d.reportFailure(ctx, cmd, "ssh", err)
		return textReply(FormatError(detail))
	}
	d.record(ctx, cmd, "report", "")
	if banner == "" {
		return textReply(MsgNoMotd)
	}
	return textReply(banner)
}

// reportFailure logs and records a failed reporting call and returns the
// redacted error detail.
func (d *Dispatcher) reportFailure(ctx context.Context, cmd *Command, path string, err error) string {
	detail := "runner reported failure"
	if err != nil {
		detail = redact.Error(err, d.cfg.Secrets...)
	}
	observability.WithTrace(ctx).Warn("report failed",
		"op", string(cmd.Operation), "address", cmd.Address, "path", path, "err", detail)
	d.record(ctx, cmd, "failed", detail)
	d.cfg.Notifier.Notify(ctx, audit.Event{
		Kind:      audit.KindError,
		Actor:     cmd.UserID,
		Device:    cmd.Address,
		Transport: path,
		Message:   fmt.Sprintf("%s failed: %s", cmd.Operation, detail),
	})
	return detail
}

func (d *Dispatcher) recordOutcome(ctx context.Context, cmd *Command, t Transport, o Outcome) {
	errMsg := ""
	if o.Kind == OutcomeTransportError || o.Kind == OutcomeFailed {
		errMsg = o.Detail
	}
	d.recordWith(ctx, cmd, o.Kind.String(), errMsg, map[string]any{"transport": t.String()})

	evt := audit.Event{
		Actor:     cmd.UserID,
		Device:    cmd.Address,
		Interface: device.LoopbackName(cmd.UserID),
		Transport: t.String(),
		Message:   o.Kind.String(),
	}
	switch {
	case o.Kind == OutcomeTransportError:
		evt.Kind = audit.KindError
		evt.Message = o.Detail
	case cmd.Operation == OpStatus:
		evt.Kind = audit.KindInterfaceChecked
	case o.Success():
		evt.Kind = audit.KindInterfaceChanged
	default:
		evt.Kind = audit.KindRejected
	}
	d.cfg.Notifier.Notify(ctx, evt)
}

func (d *Dispatcher) record(ctx context.Context, cmd *Command, result, errMsg string) {
	d.recordWith(ctx, cmd, result, errMsg, nil)
}

func (d *Dispatcher) recordWith(ctx context.Context, cmd *Command, result, errMsg string, payload map[string]any) {
	if d.cfg.Audit == nil {
		return
	}
	action := string(cmd.Operation)
	if cmd.Kind == KindSelectTransport {
		action = "select_transport"
		payload = map[string]any{"transport": cmd.Transport.String()}
	}
	if err := d.cfg.Audit.WriteAudit(ctx, trace.FromContext(ctx), cmd.UserID, action, cmd.Address, result, payload, errMsg); err != nil {
		observability.WithTrace(ctx).Warn("failed to write audit entry", "err", err)
	}
}

func displayDevice(res device.ShowRunResult) string {
	if res.DeviceName != "" {
		return res.DeviceName
	}
	return "device"
}
