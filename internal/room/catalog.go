package room

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
)

// catalogRoom is the on-disk shape of a single room entry. Exits map a
// direction name to a neighbor room id, or to an empty string / absent
// key for "no exit".
type catalogRoom struct {
	Zone    string            `json:"zone"`
	SubZone string            `json:"sub_zone"`
	Exits   map[string]string `json:"exits"`
}

// LoadCatalog reads a JSON room catalog from disk and builds a fully
// populated Registry. Spec §9 mandates this happens once, at startup:
// "the spec mandates load-at-startup because occupant tracking and zone
// membership rely on constant-time lookups."
func LoadCatalog(path string, publisher EventPublisher) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room catalog: %w", err)
	}

	var entries map[string]catalogRoom
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse room catalog: %w", err)
	}

	reg := NewRegistry()
	for id, entry := range entries {
		exits := make(map[domain.Direction]domain.RoomIDType, len(entry.Exits))
		for dir, to := range entry.Exits {
			if to == "" {
				continue
			}
			exits[domain.Direction(dir)] = domain.RoomIDType(to)
		}
		reg.Add(New(
			domain.RoomIDType(id),
			domain.ZoneIDType(entry.Zone),
			domain.SubZoneIDType(entry.SubZone),
			exits,
			publisher,
		))
	}

	if err := validateCatalog(reg); err != nil {
		return nil, err
	}

	return reg, nil
}

// validateCatalog checks that every exit points at a room that actually
// exists in the catalog, catching a malformed map file at startup rather
// than at movement time.
func validateCatalog(reg *Registry) error {
	for _, r := range reg.All() {
		for dir, to := range r.exits {
			if _, ok := reg.Get(to); !ok {
				return fmt.Errorf("room %s exit %s points to unknown room %s", r.ID(), dir, to)
			}
		}
	}
	return nil
}
