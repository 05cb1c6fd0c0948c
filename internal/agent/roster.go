// ABOUTME: Agent roster definitions loaded from a TOML file.
// ABOUTME: Each entry names an agent the router may resolve requests to.

package agent

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Definition describes one agent in the roster.
type Definition struct {
	ID        string   `toml:"id"`
	Name      string   `toml:"name"`
	Default   bool     `toml:"default"`
	Disabled  bool     `toml:"disabled"`
	Workdir   string   `toml:"workdir"`
	OutputDir string   `toml:"output_dir"`

	// Channels pins chat-platform origins to this agent. Entries are
	// "platform:channelId" strings matched against routing hints.
	Channels []string `toml:"channels"`
}

// rosterFile is the TOML document shape.
type rosterFile struct {
	Agents []Definition `toml:"agents"`
}

// LoadRoster reads agent definitions from a TOML file.
func LoadRoster(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}
	var file rosterFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roster file: %w", err)
	}
	if err := validateRoster(file.Agents); err != nil {
		return nil, err
	}
	return file.Agents, nil
}

// validateRoster checks ids are present and unique and at most one default.
func validateRoster(defs []Definition) error {
	seen := make(map[string]bool, len(defs))
	defaults := 0
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("roster entry %q missing id", d.Name)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate agent id %q in roster", d.ID)
		}
		seen[d.ID] = true
		if d.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("roster declares %d default agents, want at most one", defaults)
	}
	return nil
}
