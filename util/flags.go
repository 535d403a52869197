package util

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var flagsFromConfig = make(map[string]string)

// FlagDefault returns the default value for a command line flag,
// which the host-wide configuration file may override.
func FlagDefault(name, dflt string) string {
	if s, ok := flagsFromConfig[name]; ok {
		return s
	}
	return dflt
}

// FlagDefaultDuration is FlagDefault for duration flags. Unparseable
// config values are reported and ignored.
func FlagDefaultDuration(name string, dflt time.Duration) time.Duration {
	s, ok := flagsFromConfig[name]
	if !ok {
		return dflt
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("warning: config value for -%s: %v", name, err)
		return dflt
	}
	return d
}

// FlagDefaultInt is FlagDefault for integer flags.
func FlagDefaultInt(name string, dflt int) int {
	s, ok := flagsFromConfig[name]
	if !ok {
		return dflt
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("warning: config value for -%s: %v", name, err)
		return dflt
	}
	return n
}

// LoadFlagsFromConfig reads flag defaults from a configuration file,
// to be picked up by the FlagDefault functions. With an empty path it
// tries the host-wide locations, skipping files that cannot be read;
// an explicitly given file must load cleanly.
func LoadFlagsFromConfig(path string) error {
	if path != "" {
		values, err := flagsFromFile(path)
		if err != nil {
			return err
		}
		flagsFromConfig = values
		return nil
	}

	candidates := []string{"/etc/routegraphs.conf"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".routegraphs.conf"))
	}
	for _, p := range candidates {
		if values, err := flagsFromFile(p); err == nil {
			flagsFromConfig = values
			break
		}
	}
	return nil
}

// flagsFromFile parses a file of "flag value" lines. Whole-line and
// trailing # comments are allowed.
func flagsFromFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		if n := strings.IndexByte(line, '#'); n >= 0 {
			line = line[:n]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("syntax error (%s:%d): not in 'flag value' format", path, i+1)
		}
		out[name] = strings.TrimSpace(value)
	}
	return out, nil
}
