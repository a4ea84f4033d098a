// Package biome defines the seven fixed trading biomes and their parsing
// and validation. The biome is the unique key of every market.
package biome

import (
	"errors"
	"fmt"
	"strings"
)

// Biome identifies one of the seven terrain markets.
type Biome string

// The seven biomes. The declaration order is the canonical lock order used
// for whole-ledger snapshots.
const (
	Plains   Biome = "plains"
	Forest   Biome = "forest"
	Desert   Biome = "desert"
	Ocean    Biome = "ocean"
	Mountain Biome = "mountain"
	Swamp    Biome = "swamp"
	Tundra   Biome = "tundra"
)

// ErrInvalidBiome is returned when a string does not name a known biome.
var ErrInvalidBiome = errors.New("biome: unknown biome")

var all = []Biome{Plains, Forest, Desert, Ocean, Mountain, Swamp, Tundra}

var valid = func() map[Biome]bool {
	m := make(map[Biome]bool, len(all))
	for _, b := range all {
		m[b] = true
	}
	return m
}()

// All returns the seven biomes in canonical order. The returned slice must
// not be modified.
func All() []Biome {
	return all
}

// Parse validates a biome name (case-insensitive) and returns the typed key.
func Parse(s string) (Biome, error) {
	b := Biome(strings.ToLower(strings.TrimSpace(s)))
	if !valid[b] {
		return "", fmt.Errorf("%w: %q", ErrInvalidBiome, s)
	}
	return b, nil
}

// String implements fmt.Stringer.
func (b Biome) String() string {
	return string(b)
}
