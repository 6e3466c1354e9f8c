// Package ports extracts listen ports from workload configurations and
// tracks which ports are held by running jobs.
package ports

import (
	"sort"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/pelletier/go-toml/v2"
)

// workloadConfig is the subset of the workload TOML this server cares
// about: the file table entries that declare listen sockets.
type workloadConfig struct {
	Files []fileEntry `toml:"files"`
}

type fileEntry struct {
	Kind string `toml:"kind"`
	Port uint16 `toml:"port"`
}

// ParsePorts extracts the declared listen ports from a workload
// configuration. The configuration is otherwise opaque to the server.
func ParsePorts(configText []byte) ([]uint16, error) {
	var cfg workloadConfig
	if err := toml.Unmarshal(configText, &cfg); err != nil {
		return nil, apperrors.Validation("malformed workload configuration: " + err.Error())
	}

	seen := make(map[uint16]struct{})
	var ports []uint16
	for _, f := range cfg.Files {
		if f.Kind != "listen" {
			continue
		}
		if f.Port == 0 {
			return nil, apperrors.Validation("listen entry is missing a port")
		}
		if _, dup := seen[f.Port]; dup {
			continue
		}
		seen[f.Port] = struct{}{}
		ports = append(ports, f.Port)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports, nil
}

// ValidateRange returns every port outside the inclusive [min, max] range,
// not just the first, so callers can report all of them at once.
func ValidateRange(ports []uint16, min, max uint16) []uint16 {
	var illegal []uint16
	for _, p := range ports {
		if p < min || p > max {
			illegal = append(illegal, p)
		}
	}
	return illegal
}
