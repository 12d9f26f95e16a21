// Package identity rotates the proxy endpoint and browser header profile used
// for each outbound attempt so consecutive requests do not share a
// fingerprint.
package identity

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/listing-snapshot-scraper/internal/scrape"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// MinProfiles is the smallest table accepted for rotation.
const MinProfiles = 25

// Table is an immutable set of header profiles loaded once at start.
type Table struct {
	profiles []scrape.HeaderProfile
}

type tableFile struct {
	Profiles []scrape.HeaderProfile `yaml:"profiles"`
}

// DefaultTable parses the embedded profile table.
func DefaultTable() (*Table, error) {
	return ParseTable(defaultProfilesYAML)
}

// LoadTable reads a profile table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path.
	if err != nil {
		return nil, fmt.Errorf("read profiles file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML profile table.
func ParseTable(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	if len(file.Profiles) < MinProfiles {
		return nil, fmt.Errorf("profile table needs at least %d entries, got %d", MinProfiles, len(file.Profiles))
	}
	profiles := make([]scrape.HeaderProfile, 0, len(file.Profiles))
	for i, p := range file.Profiles {
		if strings.TrimSpace(p.Headers.Get("User-Agent")) == "" {
			return nil, fmt.Errorf("profile %d (%s) has no User-Agent", i, p.Name)
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("profile-%02d", i+1)
		}
		p.Headers = append(scrape.HeaderSet(nil), p.Headers...)
		profiles = append(profiles, p)
	}
	return &Table{profiles: profiles}, nil
}

// Len returns the number of profiles.
func (t *Table) Len() int {
	return len(t.profiles)
}

// At returns a copy of profile i so callers cannot mutate the table.
func (t *Table) At(i int) scrape.HeaderProfile {
	p := t.profiles[i]
	p.Headers = append(scrape.HeaderSet(nil), p.Headers...)
	return p
}
