package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

const (
	reasonOverlayDeny    = "Denied by policy overlay"
	reasonOverlayConfirm = "confirmation required by policy overlay"
)

// Overlay tightens the catalog rules. It can refuse a tool or require
// confirmation for it; it can never allow an unknown tool or drop a
// confirmation requirement.
type Overlay struct {
	Deny    []string `yaml:"deny"`
	Confirm []string `yaml:"confirm"`
}

// LoadOverlay reads an overlay file. It returns nil, nil when the file does
// not exist.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	return ParseOverlay(data)
}

func ParseOverlay(data []byte) (*Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	return &o, nil
}

func (o *Overlay) apply(name string, d Decision) Decision {
	if o == nil || !d.Allowed {
		return d
	}

	if slices.Contains(o.Deny, name) {
		return Decision{Allowed: false, Reason: reasonOverlayDeny}
	}

	if slices.Contains(o.Confirm, name) && !d.RequiresConfirmation {
		d.RequiresConfirmation = true
		d.Reason = fmt.Sprintf("%s; %s", d.Reason, reasonOverlayConfirm)
	}
	return d
}

func (o *Overlay) names() []string {
	return append(slices.Clone(o.Deny), o.Confirm...)
}
