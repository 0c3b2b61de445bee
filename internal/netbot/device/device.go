// Package device holds what every device transport shares: the loopback
// naming scheme, router credentials and SSH dialing.
package device

import (
	"fmt"
	"strconv"
)

// Credentials authenticate against a router.
type Credentials struct {
	Username string
	Password string
}

// ShowRunResult is what the config runner reports for a saved running-config.
type ShowRunResult struct {
	OK         bool
	FilePath   string
	DeviceName string
}

// LoopbackName is the interface managed on behalf of userID.
func LoopbackName(userID string) string {
	return "Loopback" + userID
}

// LoopbackMask is the netmask of every managed loopback.
const LoopbackMask = "255.255.255.0"

// LoopbackAddress derives the loopback IPv4 address for userID from the last
// three digits of the identifier: 172.30.<n mod 256>.1. Non-numeric
// identifiers fall back to 172.30.0.1.
func LoopbackAddress(userID string) string {
	tail := userID
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	n, err := strconv.Atoi(tail)
	if err != nil || n < 0 {
		n = 0
	}
	return fmt.Sprintf("172.30.%d.1", n%256)
}
