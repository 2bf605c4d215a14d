package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML graph profile: deployment-pinned settings that rarely
// change and belong in version control rather than the environment.
type Profile struct {
	GraphID       string  `yaml:"graph_id"`
	RootNamespace string  `yaml:"root_namespace"`
	ListenAddr    string  `yaml:"listen_addr"`
	ChainFile     string  `yaml:"chain_file"`
	SQLitePath    string  `yaml:"sqlite_path"`
	RateRPS       float64 `yaml:"rate_rps"`
	RateBurst     int     `yaml:"rate_burst"`
	Telemetry     *bool   `yaml:"telemetry"`

	// Witnesses and Threshold are parsed from the profile; Merge does not
	// apply them, and a bootstrapped genesis does not read them.
	Witnesses []string `yaml:"witnesses"`
	Threshold int      `yaml:"threshold"`
}

// LoadProfile parses a profile file.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

// Merge applies non-zero profile values over the environment config.
func (c *Config) Merge(p *Profile) {
	if p == nil {
		return
	}
	if p.GraphID != "" {
		c.GraphID = p.GraphID
	}
	if p.RootNamespace != "" {
		c.RootNamespace = p.RootNamespace
	}
	if p.ListenAddr != "" {
		c.ListenAddr = p.ListenAddr
	}
	if p.ChainFile != "" {
		c.ChainFilePath = p.ChainFile
	}
	if p.SQLitePath != "" {
		c.SQLitePath = p.SQLitePath
	}
	if p.RateRPS > 0 {
		c.RateRPS = p.RateRPS
	}
	if p.RateBurst > 0 {
		c.RateBurst = p.RateBurst
	}
	if p.Telemetry != nil {
		c.Telemetry = *p.Telemetry
	}
}
