package commands_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/Netbot/internal/netbot/audit"
	"github.com/bdobrica/Netbot/internal/netbot/commands"
	"github.com/bdobrica/Netbot/internal/netbot/device"
)

const owner = "66070273"

// fakeDevice keeps loopback state the way a router would and answers with
// the raw tokens the real adapters return.
type fakeDevice struct {
	mu      sync.Mutex
	ifaces  map[string]bool // name -> enabled
	calls   []string
	failErr error
	delay   time.Duration
}

func newFakeDevice() *fakeDevice { return &fakeDevice{ifaces: map[string]bool{}} }

func (f *fakeDevice) begin(ctx context.Context, op, address, userID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+address+" "+userID)
	err := f.failErr
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeDevice) Create(ctx context.Context, address, userID string) (string, error) {
	if err := f.begin(ctx, "create", address, userID); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := device.LoopbackName(userID)
	if _, ok := f.ifaces[name]; ok {
		return "already exists", nil
	}
	f.ifaces[name] = true
	return "created", nil
}

func (f *fakeDevice) Delete(ctx context.Context, address, userID string) (string, error) {
	if err := f.begin(ctx, "delete", address, userID); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := device.LoopbackName(userID)
	if _, ok := f.ifaces[name]; !ok {
		return "not found", nil
	}
	delete(f.ifaces, name)
	return "deleted", nil
}

func (f *fakeDevice) setEnabled(ctx context.Context, op, address, userID string, on bool, token string) (string, error) {
	if err := f.begin(ctx, op, address, userID); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := device.LoopbackName(userID)
	if _, ok := f.ifaces[name]; !ok {
		return "not found", nil
	}
	f.ifaces[name] = on
	return token, nil
}

func (f *fakeDevice) Enable(ctx context.Context, address, userID string) (string, error) {
	return f.setEnabled(ctx, "enable", address, userID, true, "enabled")
}

func (f *fakeDevice) Disable(ctx context.Context, address, userID string) (string, error) {
	return f.setEnabled(ctx, "disable", address, userID, false, "shutdowned")
}

func (f *fakeDevice) Status(ctx context.Context, address, userID string) (string, error) {
	if err := f.begin(ctx, "status", address, userID); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	on, ok := f.ifaces[device.LoopbackName(userID)]
	switch {
	case !ok:
		return "no interface", nil
	case on:
		return "enabled", nil
	default:
		return "disabled", nil
	}
}

func (f *fakeDevice) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRunner struct {
	result    device.ShowRunResult
	err       error
	bannerOK  bool
	banners   []string
	showCalls int
}

func (f *fakeRunner) ShowRunningConfig(_ context.Context, _, _ string) (device.ShowRunResult, error) {
	f.showCalls++
	return f.result, f.err
}

func (f *fakeRunner) SetBanner(_ context.Context, _, text string) (bool, error) {
	f.banners = append(f.banners, text)
	return f.bannerOK, f.err
}

type fakeCLI struct {
	summary string
	banner  string
	err     error
}

func (f *fakeCLI) PortSummary(context.Context, string) (string, error) { return f.summary, f.err }
func (f *fakeCLI) ReadBanner(context.Context, string) (string, error)  { return f.banner, f.err }

type auditRow struct {
	traceID, actor, action, target, result, errMsg string
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []auditRow
}

func (f *fakeAudit) WriteAudit(_ context.Context, traceID, actor, action, target, result string, _ map[string]any, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, auditRow{traceID, actor, action, target, result, errMsg})
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeNotifier) Notify(_ context.Context, evt audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

type harness struct {
	d        *commands.Dispatcher
	restconf *fakeDevice
	netconf  *fakeDevice
	runner   *fakeRunner
	cli      *fakeCLI
	audit    *fakeAudit
	notifier *fakeNotifier
}

func newHarness(t *testing.T, mutate func(*commands.Config)) *harness {
	t.Helper()
	h := &harness{
		restconf: newFakeDevice(),
		netconf:  newFakeDevice(),
		runner:   &fakeRunner{},
		cli:      &fakeCLI{},
		audit:    &fakeAudit{},
		notifier: &fakeNotifier{},
	}
	cfg := commands.Config{
		OwnerID:  owner,
		Restconf: h.restconf,
		Netconf:  h.netconf,
		Runner:   h.runner,
		CLI:      h.cli,
		Audit:    h.audit,
		Notifier: h.notifier,
		Secrets:  []string{"s3cretpass"},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := commands.NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	h.d = d
	return h
}

func (h *harness) say(t *testing.T, line string) commands.Reply {
	t.Helper()
	cmd, err := commands.Parse(line)
	if err != nil {
		t.Fatalf("Parse(%q): %v", line, err)
	}
	return h.d.Handle(context.Background(), cmd)
}

func (h *harness) expectText(t *testing.T, line, want string) {
	t.Helper()
	r := h.say(t, line)
	if r.Kind != commands.ReplyText || r.Text != want {
		t.Errorf("%s\n got: %+v\nwant: %q", line, r, want)
	}
}

func TestNewDispatcher_RequiresOwner(t *testing.T) {
	if _, err := commands.NewDispatcher(commands.Config{}); err == nil {
		t.Fatal("expected error without owner id")
	}
}

func TestHandle_NonOwnerIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	for _, line := range []string{
		"/12345678 restconf",
		"/12345678 10.0.15.61 create",
		"/12345678 10.0.15.61 showrun",
		"/12345678 nonsense",
	} {
		if r := h.say(t, line); r.Kind != commands.ReplyNone {
			t.Errorf("%q produced reply %+v", line, r)
		}
	}
	if _, ok := h.d.Sessions().Get("12345678"); ok {
		t.Error("non-owner selection must not be stored")
	}
	if len(h.audit.rows) != 0 || h.restconf.callCount() != 0 {
		t.Error("non-owner commands must have no side effects")
	}
}

func TestHandle_NilCommand(t *testing.T) {
	h := newHarness(t, nil)
	if r := h.d.Handle(context.Background(), nil); r.Kind != commands.ReplyNone {
		t.Errorf("nil command produced %+v", r)
	}
}

func TestHandle_StatusWithoutSelection(t *testing.T) {
	h := newHarness(t, nil)
	h.expectText(t, "/66070273 10.0.15.61 status", "Error: No method specified")
	if h.restconf.callCount()+h.netconf.callCount() != 0 {
		t.Error("no transport should be called without a selection")
	}
}

func TestHandle_SelectedTransportNotConfigured(t *testing.T) {
	h := newHarness(t, func(c *commands.Config) { c.Netconf = nil })
	h.expectText(t, "/66070273 netconf", "Ok: Netconf")
	h.expectText(t, "/66070273 10.0.15.61 create", "Error: No method specified")

	if h.restconf.callCount() != 0 {
		t.Errorf("restconf should not be called, got %v", h.restconf.calls)
	}
	if len(h.audit.rows) != 2 {
		t.Fatalf("audit rows = %+v", h.audit.rows)
	}
	row := h.audit.rows[1]
	if row.action != "create" || row.result != "rejected" || row.target != "10.0.15.61" {
		t.Errorf("rejection row = %+v", row)
	}
}

func TestHandle_SelectThenCreate(t *testing.T) {
	h := newHarness(t, nil)
	h.expectText(t, "/66070273 netconf", "Ok: Netconf")
	h.expectText(t, "/66070273 10.0.15.61 create", "Interface loopback 66070273 is created successfully using Netconf")

	if len(h.netconf.calls) != 1 || h.netconf.calls[0] != "create 10.0.15.61 66070273" {
		t.Errorf("netconf calls = %v", h.netconf.calls)
	}
	if h.restconf.callCount() != 0 {
		t.Errorf("restconf should not be called, got %v", h.restconf.calls)
	}
}

func TestHandle_CreateTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "/66070273 restconf")
	h.expectText(t, "/66070273 10.0.15.61 create", "Interface loopback 66070273 is created successfully using Restconf")
	h.expectText(t, "/66070273 10.0.15.61 create", "Cannot create: Interface loopback 66070273")
}

func TestHandle_RoundTrips(t *testing.T) {
	for _, transport := range []string{"restconf", "netconf"} {
		t.Run(transport, func(t *testing.T) {
			h := newHarness(t, nil)
			by := strings.ToUpper(transport[:1]) + transport[1:]
			h.say(t, "/66070273 "+transport)

			h.expectText(t, "/66070273 10.0.15.61 status", "No Interface loopback 66070273 (checked by "+by+")")
			h.expectText(t, "/66070273 10.0.15.61 disable", "Cannot shutdown: Interface loopback 66070273 (checked by "+by+")")
			h.expectText(t, "/66070273 10.0.15.61 enable", "Cannot enable: Interface loopback 66070273")
			h.expectText(t, "/66070273 10.0.15.61 delete", "Cannot delete: Interface loopback 66070273")

			h.say(t, "/66070273 10.0.15.61 create")
			h.expectText(t, "/66070273 10.0.15.61 disable", "Interface loopback 66070273 is shutdowned successfully using "+by)
			h.expectText(t, "/66070273 10.0.15.61 status", "Interface loopback 66070273 is disabled (checked by "+by+")")
			h.expectText(t, "/66070273 10.0.15.61 enable", "Interface loopback 66070273 is enabled successfully using "+by)
			h.expectText(t, "/66070273 10.0.15.61 status", "Interface loopback 66070273 is enabled (checked by "+by+")")
			h.expectText(t, "/66070273 10.0.15.61 delete", "Interface loopback 66070273 is deleted successfully using "+by)
			h.expectText(t, "/66070273 10.0.15.61 status", "No Interface loopback 66070273 (checked by "+by+")")
		})
	}
}

func TestHandle_SwitchTransport(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "/66070273 restconf")
	h.say(t, "/66070273 netconf")
	h.say(t, "/66070273 10.0.15.61 status")
	if h.restconf.callCount() != 0 || h.netconf.callCount() != 1 {
		t.Errorf("restconf=%d netconf=%d calls", h.restconf.callCount(), h.netconf.callCount())
	}
}

func TestHandle_ValidationOrder(t *testing.T) {
	h := newHarness(t, func(c *commands.Config) {
		c.AllowedAddresses = map[string]struct{}{"10.0.15.61": {}}
	})

	// Operation is checked before the transport selection.
	h.expectText(t, "/66070273 10.0.15.61 reboot", "Error: No command found.")
	h.expectText(t, "/66070273 10.0.15.61", "Error: No command found.")
	// Address before the selection.
	h.expectText(t, "/66070273 status", "Error: No IP specified")
	h.expectText(t, "/66070273 10.0.15.99 status", "Error: No IP specified")
	// Only then the transport.
	h.expectText(t, "/66070273 10.0.15.61 status", "Error: No method specified")
	// Owner lines that are neither a selection nor a device op.
	h.expectText(t, "/66070273 hello", "Error: No command found.")
}

func TestHandle_TransportErrorIsRedacted(t *testing.T) {
	h := newHarness(t, nil)
	h.netconf.failErr = errors.New("ssh: handshake failed for admin:s3cretpass")
	h.say(t, "/66070273 netconf")

	r := h.say(t, "/66070273 10.0.15.61 create")
	if !strings.HasPrefix(r.Text, "Error: ssh: handshake failed") {
		t.Fatalf("reply = %q", r.Text)
	}
	if strings.Contains(r.Text, "s3cretpass") {
		t.Errorf("password leaked into reply: %q", r.Text)
	}

	last := h.audit.rows[len(h.audit.rows)-1]
	if last.result != "transport_error" || strings.Contains(last.errMsg, "s3cretpass") {
		t.Errorf("audit row = %+v", last)
	}
}

func TestHandle_DeviceTimeout(t *testing.T) {
	h := newHarness(t, func(c *commands.Config) { c.DeviceTimeout = 20 * time.Millisecond })
	h.restconf.delay = time.Second
	h.say(t, "/66070273 restconf")

	r := h.say(t, "/66070273 10.0.15.61 status")
	if r.Text != "Error: context deadline exceeded" {
		t.Errorf("reply = %q", r.Text)
	}
}

func TestHandle_ShowRun(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.result = device.ShowRunResult{OK: true, FilePath: "/tmp/show_run_66070273_R1.txt", DeviceName: "R1"}

	// No transport selection needed.
	r := h.say(t, "/66070273 10.0.15.61 showrun")
	if r.Kind != commands.ReplyFile || r.FilePath != "/tmp/show_run_66070273_R1.txt" || r.Caption != "show running config" {
		t.Fatalf("reply = %+v", r)
	}

	h.runner.result = device.ShowRunResult{OK: false}
	h.expectText(t, "/66070273 10.0.15.61 showrun", "Error: Ansible")

	h.runner.err = errors.New("exit status 2")
	h.expectText(t, "/66070273 10.0.15.61 showrun", "Error: Ansible")

	h.expectText(t, "/66070273 showrun", "Error: No IP specified")
	if h.runner.showCalls != 3 {
		t.Errorf("runner called %d times, want 3", h.runner.showCalls)
	}
}

func TestHandle_GigabitStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.cli.summary = "GigabitEthernet1 up, GigabitEthernet2 down -> 1 up, 1 down, 0 administratively down"
	h.expectText(t, "/66070273 10.0.15.61 gigabit_status", h.cli.summary)

	h.cli.err = errors.New("ssh: unable to authenticate")
	h.expectText(t, "/66070273 10.0.15.61 gigabit_status", "Error: ssh: unable to authenticate")
}

func TestHandle_Motd(t *testing.T) {
	h := newHarness(t, nil)

	h.expectText(t, "/66070273 10.0.15.61 motd", "Error: No MOTD Configured")

	h.cli.banner = "Authorized users only!"
	h.expectText(t, "/66070273 10.0.15.61 motd", "Authorized users only!")

	h.runner.bannerOK = true
	h.expectText(t, "/66070273 10.0.15.61 motd Welcome  to R1", "Ok: success")
	if len(h.runner.banners) != 1 || h.runner.banners[0] != "Welcome  to R1" {
		t.Errorf("banners = %q", h.runner.banners)
	}

	h.runner.bannerOK = false
	h.expectText(t, "/66070273 10.0.15.61 motd again", "Error: Ansible")
}

func TestHandle_ReportsRespectAllowList(t *testing.T) {
	h := newHarness(t, func(c *commands.Config) {
		c.AllowedAddresses = map[string]struct{}{"10.0.15.61": {}}
	})
	h.expectText(t, "/66070273 10.0.15.62 showrun", "Error: No IP specified")
	if h.runner.showCalls != 0 {
		t.Error("runner must not be called for a disallowed address")
	}
}

func TestHandle_AuditTrail(t *testing.T) {
	h := newHarness(t, nil)
	h.say(t, "/66070273 restconf")
	h.say(t, "/66070273 10.0.15.61 create")

	if len(h.audit.rows) != 2 {
		t.Fatalf("audit rows = %+v", h.audit.rows)
	}
	sel, create := h.audit.rows[0], h.audit.rows[1]
	if sel.action != "select_transport" || sel.actor != owner {
		t.Errorf("selection row = %+v", sel)
	}
	if create.action != "create" || create.target != "10.0.15.61" || create.result != "created" {
		t.Errorf("create row = %+v", create)
	}
	if create.traceID == "" || create.traceID == sel.traceID {
		t.Errorf("each command needs its own trace id: %q / %q", sel.traceID, create.traceID)
	}

	if len(h.notifier.events) != 2 {
		t.Fatalf("notices = %+v", h.notifier.events)
	}
	evt := h.notifier.events[1]
	if evt.Kind != audit.KindInterfaceChanged || evt.Interface != "Loopback66070273" || evt.Transport != "restconf" {
		t.Errorf("notice = %+v", evt)
	}
}

func TestHandle_SerialisesSameDevice(t *testing.T) {
	h := newHarness(t, nil)
	h.restconf.delay = 5 * time.Millisecond
	h.say(t, "/66070273 restconf")

	cmd, _ := commands.Parse("/66070273 10.0.15.61 create")
	var wg sync.WaitGroup
	replies := make([]string, 4)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			replies[i] = h.d.Handle(context.Background(), cmd).Text
		}(i)
	}
	wg.Wait()

	created := 0
	for _, r := range replies {
		if strings.Contains(r, "created successfully") {
			created++
		}
	}
	if created != 1 {
		t.Errorf("expected exactly one successful create, got %d: %q", created, replies)
	}
}
