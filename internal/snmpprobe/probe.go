// Package snmpprobe reads live interface oper-status over SNMP so the editor
// can overlay real port state on a modeled device.
package snmpprobe

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

// ifOperStatus, IF-MIB.
const operStatusOID = "1.3.6.1.2.1.2.2.1.8"

// ifDescr, IF-MIB.
const ifDescrOID = "1.3.6.1.2.1.2.2.1.2"

var operState = map[int]string{
	1: "up",
	2: "down",
	3: "testing",
	4: "unknown",
	5: "dormant",
	6: "not_present",
	7: "lower_layer_down",
}

// PortState is one interface row from the walk.
type PortState struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

func client(host, community string) *gosnmp.GoSNMP {
	return &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   gosnmp.Default.Timeout,
		Retries:   1,
	}
}

// Walk reads ifDescr and ifOperStatus and joins them by interface index.
// Results come back sorted by index.
func Walk(host, community string) ([]PortState, error) {
	g := client(host, community)
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connect error: %v", err)
	}
	defer g.Conn.Close()

	names := make(map[int]string)
	err := g.BulkWalk(ifDescrOID, func(pdu gosnmp.SnmpPDU) error {
		idx, ok := indexOf(pdu.Name, ifDescrOID)
		if !ok {
			return nil
		}
		switch v := pdu.Value.(type) {
		case []byte:
			names[idx] = string(v)
		case string:
			names[idx] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SNMP walk error: %v", err)
	}

	var out []PortState
	err = g.BulkWalk(operStatusOID, func(pdu gosnmp.SnmpPDU) error {
		idx, ok := indexOf(pdu.Name, operStatusOID)
		if !ok {
			return nil
		}
		val := int(gosnmp.ToBigInt(pdu.Value).Int64())
		state, ok := operState[val]
		if !ok {
			state = fmt.Sprintf("unknown(%d)", val)
		}
		out = append(out, PortState{Index: idx, Name: names[idx], Status: state})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SNMP walk error: %v", err)
	}
	return out, nil
}

func indexOf(name, base string) (int, bool) {
	s := strings.TrimPrefix(name, ".")
	s = strings.TrimPrefix(s, base+".")
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}
