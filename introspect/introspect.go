// Copyright 2024 The godbusd Authors.
//
// Package introspect defines the XML introspection document type the
// core's default Introspect handler produces for virtual parent paths.
// Generating a full interface-by-interface document for a real exported
// object is an exported object's own responsibility; this package only
// covers the synthetic document describing an object's children.
package introspect

import "encoding/xml"

// Node is the root introspection document element.
type Node struct {
	XMLName    xml.Name    `xml:"node"`
	Interfaces []Interface `xml:"interface"`
	Children   []Child     `xml:"node"`
}

// Interface describes one D-Bus interface; the synthetic document the
// core emits only ever lists Introspectable itself.
type Interface struct {
	Name    string   `xml:"name,attr"`
	Methods []Method `xml:"method"`
}

// Method is a bare method name with no argument description, sufficient
// for the Introspectable.Introspect method itself.
type Method struct {
	Name string `xml:"name,attr"`
}

// Child names one direct child node by its path component.
type Child struct {
	Name string `xml:"name,attr"`
}

// VirtualParent builds the introspection document the core sends for an
// object path that has no exported handler of its own but is an ancestor
// of one or more exported paths: it advertises only the Introspectable
// interface and lists the given children.
func VirtualParent(children []string) *Node {
	n := &Node{
		Interfaces: []Interface{
			{
				Name: "org.freedesktop.DBus.Introspectable",
				Methods: []Method{
					{Name: "Introspect"},
				},
			},
		},
	}
	for _, c := range children {
		n.Children = append(n.Children, Child{Name: c})
	}
	return n
}

// Marshal renders the document as an XML string, including the standard
// D-Bus introspection doctype.
func Marshal(n *Node) (string, error) {
	body, err := xml.MarshalIndent(n, "", "  ")
	if err != nil {
		return "", err
	}
	const doctype = `<!DOCTYPE node PUBLIC "-//freedesktop//DTD D-BUS Object Introspection 1.0//EN" "http://www.freedesktop.org/standards/dbus/1.0/introspect.dtd">` + "\n"
	return xml.Header + doctype + string(body), nil
}
