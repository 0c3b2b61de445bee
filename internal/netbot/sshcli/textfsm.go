package sshcli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirikothe/gotextfsm"
)

// briefTemplateName is the ntc-templates file for "show ip interface brief".
const briefTemplateName = "cisco_ios_show_ip_interface_brief.textfsm"

// loadTemplate reads a TextFSM template. path may name the template file or
// an ntc-templates directory.
func loadTemplate(path string) (*gotextfsm.TextFSM, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("textfsm template: %w", err)
	}
	if info.IsDir() {
		path = filepath.Join(path, briefTemplateName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("textfsm template: %w", err)
	}
	fsm := gotextfsm.TextFSM{}
	if err := fsm.ParseString(string(data)); err != nil {
		return nil, fmt.Errorf("parse textfsm template %s: %w", path, err)
	}
	return &fsm, nil
}

// parseWithTemplate runs raw through fsm and keeps GigabitEthernet rows.
// Both the older (INTF) and newer (INTERFACE) ntc-templates column names
// are accepted.
func parseWithTemplate(fsm *gotextfsm.TextFSM, raw string) ([]Port, error) {
	out := gotextfsm.ParserOutput{}
	if err := out.ParseTextString(raw, *fsm, true); err != nil {
		return nil, fmt.Errorf("textfsm parse: %w", err)
	}
	var ports []Port
	for _, row := range out.Dict {
		name := field(row, "INTF", "INTERFACE")
		if name == "" || !isGigabit(name) {
			continue
		}
		ports = append(ports, Port{Name: name, State: normalizeState(field(row, "STATUS"))})
	}
	return ports, nil
}

func field(row map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := row[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []string:
			if len(v) > 0 {
				return v[0]
			}
		}
	}
	return ""
}
