package sshcli

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Port states as reported in the summary.
const (
	StateUp        = "up"
	StateDown      = "down"
	StateAdminDown = "administratively down"
)

// NoGigabitPorts is the summary when the device has no GigabitEthernet rows.
const NoGigabitPorts = "No GigabitEthernet found"

// Port is one GigabitEthernet row of "show ip interface brief".
type Port struct {
	Name  string
	State string
}

var (
	shortGigabit = regexp.MustCompile(`^Gi[\d/]+`)
	digits       = regexp.MustCompile(`\d+`)
)

func isGigabit(name string) bool {
	return strings.Contains(name, "GigabitEthernet") || shortGigabit.MatchString(name)
}

// normalizeState folds the status column into one of the three states.
func normalizeState(status string) string {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, StateAdminDown):
		return StateAdminDown
	case strings.Contains(s, "up"):
		return StateUp
	default:
		return StateDown
	}
}

// ParseBrief extracts GigabitEthernet rows from the text of
// "show ip interface brief". Columns are Interface, IP-Address, OK?,
// Method, Status (one or two words) and Protocol.
func ParseBrief(raw string) []Port {
	var ports []Port
	for _, line := range strings.Split(raw, "\n") {
		s := strings.TrimSpace(line)
		if s == "" || !isGigabit(s) {
			continue
		}
		parts := strings.Fields(s)
		if !isGigabit(parts[0]) {
			continue
		}
		if len(parts) < 5 {
			ports = append(ports, Port{Name: parts[0], State: StateDown})
			continue
		}
		status := parts[4]
		if len(parts) > 5 {
			status = strings.Join(parts[4:len(parts)-1], " ")
		}
		ports = append(ports, Port{Name: parts[0], State: normalizeState(status)})
	}
	return ports
}

// fullName expands the short "Gi" prefix.
func fullName(name string) string {
	if strings.HasPrefix(name, "GigabitEthernet") {
		return name
	}
	if strings.HasPrefix(name, "Gi") {
		return "GigabitEthernet" + strings.TrimPrefix(name, "Gi")
	}
	return name
}

func numericKey(name string) []int {
	nums := digits.FindAllString(name, -1)
	if len(nums) == 0 {
		return []int{9999}
	}
	key := make([]int, len(nums))
	for i, n := range nums {
		key[i], _ = strconv.Atoi(n)
	}
	return key
}

// Summarize renders ports as
// "GigabitEthernet1 up, GigabitEthernet2 down -> 1 up, 1 down, 0 administratively down",
// ordered by the numeric components of the interface names.
func Summarize(ports []Port) string {
	if len(ports) == 0 {
		return NoGigabitPorts
	}
	sorted := slices.Clone(ports)
	slices.SortStableFunc(sorted, func(a, b Port) int {
		return slices.Compare(numericKey(a.Name), numericKey(b.Name))
	})

	var up, down, admin int
	pieces := make([]string, 0, len(sorted))
	for _, p := range sorted {
		state := p.State
		switch state {
		case StateUp:
			up++
		case StateAdminDown:
			admin++
		default:
			state = StateDown
			down++
		}
		pieces = append(pieces, fullName(p.Name)+" "+state)
	}
	return fmt.Sprintf("%s -> %d up, %d down, %d administratively down",
		strings.Join(pieces, ", "), up, down, admin)
}
