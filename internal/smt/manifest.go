package smt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telic-run/telic/internal/ir"
)

// Manifest pins a domain's configuration and the journal checkpoint recovery
// starts from. It lives next to the domain's store (one directory per
// domain).
type Manifest struct {
	Domain        string          `yaml:"domain"`
	Config        ir.DomainConfig `yaml:"config"`
	StoreDriver   Driver          `yaml:"store_driver"`
	StoreDSN      string          `yaml:"store_dsn,omitempty"`
	CheckpointSeq int64           `yaml:"checkpoint_seq"`
	// CheckpointRoot is the hex root at CheckpointSeq; empty for a fresh
	// domain.
	CheckpointRoot string `yaml:"checkpoint_root,omitempty"`
}

// LoadManifest reads a manifest from path.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("load manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Domain == "" {
		return Manifest{}, fmt.Errorf("parse manifest: domain name is required")
	}
	return m, nil
}

// Save writes the manifest to path.
func (m Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
