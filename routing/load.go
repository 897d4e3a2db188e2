package routing

import (
	"encoding/json"
	"fmt"
	"os"
)

// RoutesFile is the on-disk routing configuration: the logical service
// base URLs and the ordered rule list.
type RoutesFile struct {
	Services map[string]string `json:"services"`
	Routes   []Rule            `json:"routes"`
}

// LoadFile reads and validates a routes file. The result is immutable for
// the life of the process; hot-reload is deliberately unsupported.
func LoadFile(path string) (*Table, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read routes file: %w", err)
	}
	return Parse(data)
}

// Parse builds a routing table from raw routes-file JSON.
func Parse(data []byte) (*Table, map[string]string, error) {
	var rf RoutesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, nil, fmt.Errorf("parse routes file: %w", err)
	}
	if len(rf.Routes) == 0 {
		return nil, nil, fmt.Errorf("routes file declares no routes")
	}
	if len(rf.Services) == 0 {
		return nil, nil, fmt.Errorf("routes file declares no services")
	}

	table, err := NewTable(rf.Routes)
	if err != nil {
		return nil, nil, err
	}

	// Every referenced service must resolve to a base URL.
	for _, r := range rf.Routes {
		if r.Service != "" {
			if _, ok := rf.Services[r.Service]; !ok {
				return nil, nil, fmt.Errorf("rule %q references unknown service %q", r.Prefix, r.Service)
			}
		}
		for key, sub := range r.Sub {
			if _, ok := rf.Services[sub.Service]; !ok {
				return nil, nil, fmt.Errorf("rule %q sub-route %q references unknown service %q", r.Prefix, key, sub.Service)
			}
		}
	}

	return table, rf.Services, nil
}
