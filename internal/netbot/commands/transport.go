package commands

import (
	"context"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

// DeviceTransport manages the loopback interface owned by userID on the
// router at address. Implementations return a short raw answer ("created",
// "already exists", "not found", ...) for expected outcomes and reserve
// errors for transport faults.
type DeviceTransport interface {
	Create(ctx context.Context, address, userID string) (string, error)
	Delete(ctx context.Context, address, userID string) (string, error)
	Enable(ctx context.Context, address, userID string) (string, error)
	Disable(ctx context.Context, address, userID string) (string, error)
	Status(ctx context.Context, address, userID string) (string, error)
}

// ConfigRunner drives the declarative automation path.
type ConfigRunner interface {
	ShowRunningConfig(ctx context.Context, address, userID string) (device.ShowRunResult, error)
	SetBanner(ctx context.Context, address, text string) (bool, error)
}

// CLI runs show commands over an interactive device session.
type CLI interface {
	// PortSummary returns a pre-formatted GigabitEthernet status line.
	PortSummary(ctx context.Context, address string) (string, error)
	// ReadBanner returns the configured MOTD, or "" when none is set.
	ReadBanner(ctx context.Context, address string) (string, error)
}

// AuditRecorder persists one row per handled command.
type AuditRecorder interface {
	WriteAudit(ctx context.Context, traceID, actor, action, target, result string, payload map[string]any, errorMsg string) error
}

func invoke(ctx context.Context, tr DeviceTransport, op Operation, address, userID string) (string, error) {
	switch op {
	case OpCreate:
		return tr.Create(ctx, address, userID)
	case OpDelete:
		return tr.Delete(ctx, address, userID)
	case OpEnable:
		return tr.Enable(ctx, address, userID)
	case OpDisable:
		return tr.Disable(ctx, address, userID)
	default:
		return tr.Status(ctx, address, userID)
	}
}
