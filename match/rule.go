// Copyright 2024 The godbusd Authors.
//
// Package match serializes match rules, the filter grammar a bus-attached
// connection sends in AddMatch to ask the bus to route particular signals
// to it. The grammar is this module's concern; the AddMatch method-call
// wrapper that sends it is left to a higher layer.
package match

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Rule describes which signals a connection wants routed to it. Zero
// values mean "don't filter on this field"; ArgN is sparse (only present
// indices are serialized).
type Rule struct {
	Type        string // "method_call" | "method_return" | "error" | "signal"
	Sender      string
	Interface   string
	Member      string
	Path        []string // path components; nil/empty omits the path key
	Destination string
	Args        map[int]string
}

// Serialize renders a Rule in the "key='value',..." grammar AddMatch
// expects:
//
//	rule := (key "=" "'" value "'")*("," ...)
//	keys := type | sender | interface | member | path | destination | arg<N>
//
// Keys are emitted in a fixed, deterministic order so the same Rule always
// serializes identically.
func Serialize(r Rule) string {
	var parts []string

	add := func(key, val string) {
		if val == "" {
			return
		}
		parts = append(parts, fmt.Sprintf("%s='%s'", key, val))
	}

	add("type", r.Type)
	add("sender", r.Sender)
	add("interface", r.Interface)
	add("member", r.Member)
	if len(r.Path) > 0 {
		add("path", PathString(r.Path))
	}
	add("destination", r.Destination)

	if len(r.Args) > 0 {
		keys := make([]int, 0, len(r.Args))
		for k := range r.Args {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			add("arg"+strconv.Itoa(k), r.Args[k])
		}
	}

	return strings.Join(parts, ",")
}

// PathString renders path components as an absolute object path: zero
// components collapse to "/", otherwise each component is "/"-prefixed.
func PathString(components []string) string {
	if len(components) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, c := range components {
		b.WriteByte('/')
		b.WriteString(c)
	}
	return b.String()
}
