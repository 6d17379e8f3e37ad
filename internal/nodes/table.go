// Package nodes maps processes onto compute nodes.
//
// A routing table lists the nodes. A process pinned to a node always
// selects it; every other process is placed by rendezvous hashing over
// node names, so a given process lands on the same node for as long as
// the table is unchanged.
package nodes

import (
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Node is one compute endpoint.
type Node struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Table is the routing table file.
//
//	nodes:
//	  - name: cu-1
//	    url: http://cu-1:6363
//	pins:
//	  <process id>: cu-1
type Table struct {
	Nodes []Node            `yaml:"nodes"`
	Pins  map[string]string `yaml:"pins"`
}

// LoadTable reads and validates a routing table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read node table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML routing table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse node table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks that node names are unique, URLs are absolute http(s)
// URLs, and pins name known nodes.
func (t Table) Validate() error {
	seen := make(map[string]bool, len(t.Nodes))
	for i, n := range t.Nodes {
		if n.Name == "" {
			return fmt.Errorf("node %d: name is required", i)
		}
		if seen[n.Name] {
			return fmt.Errorf("node %q: duplicate name", n.Name)
		}
		seen[n.Name] = true

		u, err := url.Parse(n.URL)
		if err != nil {
			return fmt.Errorf("node %q: invalid url: %w", n.Name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("node %q: url must be absolute http(s), got %q", n.Name, n.URL)
		}
	}
	for pid, name := range t.Pins {
		if !seen[name] {
			return fmt.Errorf("pin %s: unknown node %q", pid, name)
		}
	}
	return nil
}
