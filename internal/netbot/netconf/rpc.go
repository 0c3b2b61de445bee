package netconf

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	nsInterfaces = "urn:ietf:params:xml:ns:yang:ietf-interfaces"
	nsIP         = "urn:ietf:params:xml:ns:yang:ietf-ip"
	nsIANAIfType = "urn:ietf:params:xml:ns:yang:iana-if-type"
)

type rpcReply struct {
	XMLName xml.Name   `xml:"rpc-reply"`
	OK      *struct{}  `xml:"ok"`
	Errors  []rpcError `xml:"rpc-error"`
	Data    *replyData `xml:"data"`
}

type rpcError struct {
	Type     string `xml:"error-type"`
	Tag      string `xml:"error-tag"`
	Severity string `xml:"error-severity"`
	Message  string `xml:"error-message"`
}

type replyData struct {
	Interfaces []configInterface `xml:"interfaces>interface"`
	State      []stateInterface  `xml:"interfaces-state>interface"`
}

type configInterface struct {
	Name    string `xml:"name"`
	Enabled string `xml:"enabled"`
}

type stateInterface struct {
	Name        string `xml:"name"`
	AdminStatus string `xml:"admin-status"`
	OperStatus  string `xml:"oper-status"`
}

func parseReply(raw []byte) (*rpcReply, error) {
	var r rpcReply
	if err := xml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode rpc-reply: %w", err)
	}
	return &r, nil
}

// errorText flattens rpc-errors into a raw "error ..." answer.
func (r *rpcReply) errorText() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = e.Tag
		}
		parts = append(parts, msg)
	}
	return "error " + strings.Join(parts, "; ")
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func interfaceFilter(name string) string {
	return `<filter type="subtree"><interfaces xmlns="` + nsInterfaces + `"><interface><name>` +
		escape(name) + `</name></interface></interfaces></filter>`
}

func getConfigRPC(name string) string {
	return `<get-config><source><running/></source>` + interfaceFilter(name) + `</get-config>`
}

func getStateRPC(name string) string {
	return `<get><filter type="subtree"><interfaces-state xmlns="` + nsInterfaces + `"><interface><name>` +
		escape(name) + `</name></interface></interfaces-state></filter></get>`
}

func editConfigRPC(config string) string {
	return `<edit-config><target><running/></target><config>` + config + `</config></edit-config>`
}

func createConfig(name, ip, mask string) string {
	return `<interfaces xmlns="` + nsInterfaces + `"><interface>` +
		`<name>` + escape(name) + `</name>` +
		`<type xmlns:ianaift="` + nsIANAIfType + `">ianaift:softwareLoopback</type>` +
		`<enabled>true</enabled>` +
		`<ipv4 xmlns="` + nsIP + `"><address><ip>` + ip + `</ip><netmask>` + mask + `</netmask></address></ipv4>` +
		`</interface></interfaces>`
}

func deleteConfig(name string) string {
	return `<interfaces xmlns="` + nsInterfaces + `">` +
		`<interface xmlns:nc="urn:ietf:params:xml:ns:netconf:base:1.0" nc:operation="delete">` +
		`<name>` + escape(name) + `</name></interface></interfaces>`
}

func enabledConfig(name string, enabled bool) string {
	return fmt.Sprintf(`<interfaces xmlns="%s"><interface><name>%s</name><enabled>%t</enabled></interface></interfaces>`,
		nsInterfaces, escape(name), enabled)
}
