// SPDX-License-Identifier: MPL-2.0

package install

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/pyvm/pyvm/internal/registry"
)

// ReceiptFile is written into every install prefix.
const ReceiptFile = ".pyvm-install.toml"

// Receipt records how a version directory was produced.
type Receipt struct {
	Name string `toml:"name" json:"name" yaml:"name"`
	// ID is unique per install attempt and also names its staging directory.
	ID          string        `toml:"id" json:"id" yaml:"id"`
	Kind        registry.Kind `toml:"kind" json:"kind" yaml:"kind"`
	Source      string        `toml:"source" json:"source" yaml:"source"`
	URL         string        `toml:"url" json:"url" yaml:"url"`
	SHA256      string        `toml:"sha256,omitempty" json:"sha256,omitempty" yaml:"sha256,omitempty"`
	InstalledAt time.Time     `toml:"installed_at" json:"installed_at" yaml:"installed_at"`
}

// WriteReceipt writes r into prefix.
func WriteReceipt(prefix string, r *Receipt) error {
	data, err := toml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	if err := os.WriteFile(filepath.Join(prefix, ReceiptFile), data, 0o644); err != nil {
		return fmt.Errorf("writing receipt: %w", err)
	}
	return nil
}

// ReadReceipt reads the receipt in prefix.
func ReadReceipt(prefix string) (*Receipt, error) {
	data, err := os.ReadFile(filepath.Join(prefix, ReceiptFile))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := toml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Join(prefix, ReceiptFile), err)
	}
	return &r, nil
}
