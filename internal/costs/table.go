// Package costs prices actions in credits for each platform.
package costs

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrUnknownPlatform = errors.New("unknown platform")
)

//go:embed default_costs.yaml
var defaultCosts []byte

// Entry prices one action. Command marks menu and navigation commands that can be bundled.
type Entry struct {
	Action      string `json:"action"`
	Cost        int64  `json:"cost"`
	Command     bool   `json:"command"`
	Description string `json:"description,omitempty"`
}

// Table is an immutable action -> price lookup.
type Table struct {
	entries    map[string]Entry
	bundleCost int64
}

func NewTable(entries []Entry, bundleCost int64) (*Table, error) {
	if bundleCost < 0 {
		return nil, fmt.Errorf("command bundle cost %d: must be >= 0", bundleCost)
	}

	t := &Table{
		entries:    make(map[string]Entry, len(entries)),
		bundleCost: bundleCost,
	}

	for _, e := range entries {
		if e.Action == "" {
			return nil, errors.New("cost entry without action")
		}
		if e.Cost < 0 {
			return nil, fmt.Errorf("action %q: cost %d must be >= 0", e.Action, e.Cost)
		}
		if _, dup := t.entries[e.Action]; dup {
			return nil, fmt.Errorf("action %q listed twice", e.Action)
		}
		t.entries[e.Action] = e
	}

	return t, nil
}

func (t *Table) Lookup(action string) (Entry, error) {
	e, ok := t.entries[action]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return e, nil
}

// BundleCost is what the first command of a bundle pays.
func (t *Table) BundleCost() int64 { return t.bundleCost }

// Entries lists the table sorted by action.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

type fileFormat struct {
	CommandBundleCost *int64               `yaml:"command_bundle_cost"`
	Actions           map[string]fileEntry `yaml:"actions"`
}

type fileEntry struct {
	Cost        int64  `yaml:"cost"`
	Command     bool   `yaml:"command"`
	Description string `yaml:"description"`
}

// Parse reads a YAML cost table. Unknown keys are rejected; a missing
// command_bundle_cost means 1.
func Parse(data []byte) (*Table, error) {
	var f fileFormat

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(&f)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode cost table: %w", err)
	}

	bundleCost := int64(1)
	if f.CommandBundleCost != nil {
		bundleCost = *f.CommandBundleCost
	}

	entries := make([]Entry, 0, len(f.Actions))
	for action, fe := range f.Actions {
		entries = append(entries, Entry{
			Action:      action,
			Cost:        fe.Cost,
			Command:     fe.Command,
			Description: fe.Description,
		})
	}

	return NewTable(entries, bundleCost)
}

// Load returns the table in path, or the embedded default when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Parse(defaultCosts)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cost table: %w", err)
	}

	return Parse(data)
}
