// Package chantab loads and indexes the static channel table. The table is
// supplied from outside the driver core (regulatory data shipped with the
// device); the core only ever looks channels up by number.
package chantab

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tmorgen/airvane/pkg/wlan"
)

// Table is an immutable channel lookup table.
type Table struct {
	channels []wlan.Channel
	byNumber map[int]wlan.Channel
}

// New builds a table from a channel list. Duplicate channel numbers are
// rejected; the firmware channel map is keyed by number alone.
func New(channels []wlan.Channel) (*Table, error) {
	t := &Table{
		channels: append([]wlan.Channel(nil), channels...),
		byNumber: make(map[int]wlan.Channel, len(channels)),
	}
	for _, c := range channels {
		if _, dup := t.byNumber[c.Number]; dup {
			return nil, fmt.Errorf("chantab: duplicate channel %d", c.Number)
		}
		t.byNumber[c.Number] = c
	}
	return t, nil
}

// Load reads a YAML channel table from path.
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chantab: read %q: %w", path, err)
	}
	var doc struct {
		Channels []wlan.Channel `yaml:"channels"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("chantab: parse %q: %w", path, err)
	}
	return New(doc.Channels)
}

// Lookup returns the channel with the given number.
func (t *Table) Lookup(number int) (wlan.Channel, bool) {
	c, ok := t.byNumber[number]
	return c, ok
}

// Channels returns the table contents in declaration order.
func (t *Table) Channels() []wlan.Channel {
	return append([]wlan.Channel(nil), t.channels...)
}

// Default returns a small built-in table covering the common 2.4 GHz and
// 5 GHz channels. The simulator and tests use it; production loads the
// device's regulatory table instead.
func Default() *Table {
	t, err := New([]wlan.Channel{
		{Band: wlan.Band2GHz, Number: 1, FreqMHz: 2412, MaxPowerDBm: 20},
		{Band: wlan.Band2GHz, Number: 6, FreqMHz: 2437, MaxPowerDBm: 20},
		{Band: wlan.Band2GHz, Number: 11, FreqMHz: 2462, MaxPowerDBm: 20},
		{Band: wlan.Band5GHz, Number: 36, FreqMHz: 5180, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 40, FreqMHz: 5200, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 44, FreqMHz: 5220, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 48, FreqMHz: 5240, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 52, FreqMHz: 5260, Flags: wlan.ChanFlagDFS, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 100, FreqMHz: 5500, Flags: wlan.ChanFlagDFS, MaxPowerDBm: 23},
		{Band: wlan.Band5GHz, Number: 149, FreqMHz: 5745, MaxPowerDBm: 30},
	})
	if err != nil {
		panic(err) // Static table; cannot fail.
	}
	return t
}
