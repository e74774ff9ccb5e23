// ABOUTME: Loads the domain-expert catalog from TOML with env var expansion.
// ABOUTME: Validates entries so endpoint typos fail at startup, not at call time.

package experts

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

// Expert describes one catalog entry.
type Expert struct {
	Name     string `toml:"name"`
	Endpoint string `toml:"endpoint"`
	Type     string `toml:"type"`
	Enabled  *bool  `toml:"enabled"`
}

// IsEnabled reports whether the entry should be connected. Entries that
// omit the enabled key default to enabled.
func (e Expert) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Catalog is the parsed expert catalog.
type Catalog struct {
	Experts []Expert `toml:"experts"`
}

// LoadCatalog reads the catalog from the given path, expanding ${VAR}
// environment references before parsing.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading expert catalog: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cat Catalog
	md, err := toml.Decode(expanded, &cat)
	if err != nil {
		return nil, fmt.Errorf("parsing expert catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("expert catalog has unknown fields: %v", undecoded)
	}

	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("validating expert catalog: %w", err)
	}

	return &cat, nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that every entry has a name and a usable endpoint URL and
// that names are unique.
func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Experts))
	for i, e := range c.Experts {
		if e.Name == "" {
			return fmt.Errorf("experts[%d]: name is required", i)
		}
		if _, dup := seen[e.Name]; dup {
			return fmt.Errorf("experts[%d]: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}

		if e.Endpoint == "" {
			return fmt.Errorf("expert %q: endpoint is required", e.Name)
		}
		u, err := url.Parse(e.Endpoint)
		if err != nil {
			return fmt.Errorf("expert %q: endpoint is not a valid URL: %w", e.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("expert %q: endpoint must use http or https scheme", e.Name)
		}
	}
	return nil
}

// EnabledExperts returns the entries that should be connected.
func (c *Catalog) EnabledExperts() []Expert {
	out := make([]Expert, 0, len(c.Experts))
	for _, e := range c.Experts {
		if e.IsEnabled() {
			out = append(out, e)
		}
	}
	return out
}
