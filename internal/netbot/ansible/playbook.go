package ansible

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/Netbot/internal/netbot/device"
)

const (
	inventoryFile = "inventory.yml"
	playbookFile  = "playbook.yml"
	sentinelFile  = "showrun_result.json"

	// hostAlias is the single inventory host every play targets.
	hostAlias = "target"
)

type task map[string]any

type play struct {
	Name        string         `yaml:"name"`
	Hosts       string         `yaml:"hosts"`
	GatherFacts bool           `yaml:"gather_facts"`
	Vars        map[string]any `yaml:"vars,omitempty"`
	Tasks       []task         `yaml:"tasks"`
}

// unsafe marks a value as not to be templated by Jinja.
func unsafe(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!unsafe", Value: s}
}

func inventory(address string, creds device.Credentials) map[string]any {
	return map[string]any{
		"all": map[string]any{
			"hosts": map[string]any{
				hostAlias: map[string]any{
					"ansible_host":       address,
					"ansible_user":       creds.Username,
					"ansible_password":   unsafe(creds.Password),
					"ansible_connection": "ansible.netcommon.network_cli",
					"ansible_network_os": "cisco.ios.ios",
				},
			},
		},
	}
}

// showRunPlay saves the running config to
// {outputDir}/show_run_{userID}_{hostname}.txt and records the path and
// hostname in the sentinel file.
func showRunPlay(userID, outputDir, sentinel string) []play {
	return []play{{
		Name:        "Save running config",
		Hosts:       hostAlias,
		GatherFacts: false,
		Vars: map[string]any{
			"student_id":    userID,
			"output_dir":    outputDir,
			"sentinel_path": sentinel,
		},
		Tasks: []task{
			{
				"name":                "Gather hostname",
				"cisco.ios.ios_facts": map[string]any{"gather_subset": "min"},
			},
			{
				"name":                  "Read running config",
				"cisco.ios.ios_command": map[string]any{"commands": []string{"show running-config"}},
				"register":              "showrun",
			},
			{
				"name":     "Compute file path",
				"set_fact": map[string]any{"showrun_path": "{{ output_dir }}/show_run_{{ student_id }}_{{ ansible_net_hostname }}.txt"},
			},
			{
				"name":                 "Save running config",
				"ansible.builtin.copy": map[string]any{"content": "{{ showrun.stdout[0] }}\n", "dest": "{{ showrun_path }}", "mode": "0644"},
				"delegate_to":          "localhost",
			},
			{
				"name": "Write result sentinel",
				"ansible.builtin.copy": map[string]any{
					"content": "{{ {'filepath': showrun_path, 'router_name': ansible_net_hostname} | to_json }}",
					"dest":    "{{ sentinel_path }}",
				},
				"delegate_to": "localhost",
			},
		},
	}}
}

func bannerPlay(text string) []play {
	return []play{{
		Name:        "Set MOTD banner",
		Hosts:       hostAlias,
		GatherFacts: false,
		Tasks: []task{{
			"name": "Apply banner",
			"cisco.ios.ios_banner": map[string]any{
				"banner": "motd",
				"text":   unsafe(text),
				"state":  "present",
			},
		}},
	}}
}

func writeYAML(dir, name string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
