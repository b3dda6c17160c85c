// Copyright 2024 The godbusd Authors.
//
// Package addr parses D-Bus server address lists, a semicolon-separated
// sequence of "transport:key=value,key=value" segments, into structured
// entries. It is internal because address parsing is an implementation
// detail of OfAddresses, not part of the connection's public surface.
package addr

import (
	"fmt"
	"strings"
)

// Entry is one parsed address segment.
type Entry struct {
	Kind   string
	Params map[string]string
	GUID   string // empty if the segment carries no guid= key
}

// Parse splits a D-Bus address string into its semicolon-delimited
// entries. Each entry is "kind:key=value,key=value,..."; this parser
// does not implement the percent-escaping the real address grammar
// allows inside values, matching the escaping-free key=value shape the
// loopback and test dialers in this module actually produce.
func Parse(address string) ([]Entry, error) {
	if address == "" {
		return nil, fmt.Errorf("addr: empty address")
	}

	var entries []Entry
	for _, segment := range strings.Split(address, ";") {
		if segment == "" {
			continue
		}
		i := strings.IndexByte(segment, ':')
		if i < 0 {
			return nil, fmt.Errorf("addr: missing transport kind in segment %q", segment)
		}
		e := Entry{Kind: segment[:i], Params: map[string]string{}}
		rest := segment[i+1:]
		if rest != "" {
			for _, kv := range strings.Split(rest, ",") {
				j := strings.IndexByte(kv, '=')
				if j < 0 {
					return nil, fmt.Errorf("addr: malformed key=value pair %q", kv)
				}
				key, val := kv[:j], kv[j+1:]
				e.Params[key] = val
				if key == "guid" {
					e.GUID = val
				}
			}
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("addr: no usable segments in %q", address)
	}
	return entries, nil
}

// GUIDs returns every non-empty guid= value carried by the address list,
// in order, used by OfAddresses to probe the shared-connection registry
// before dialing.
func GUIDs(entries []Entry) []string {
	var guids []string
	for _, e := range entries {
		if e.GUID != "" {
			guids = append(guids, e.GUID)
		}
	}
	return guids
}
