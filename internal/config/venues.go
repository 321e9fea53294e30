package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/iliyamo/temple-admission/internal/model"
)

// DefaultSeedVenues is used for the in-memory venue repository when
// SEED_VENUES is empty.
const DefaultSeedVenues = "somnath:Somnath:5000:500;dwarka:Dwarka:4000:400;ambaji:Ambaji:6000:600;pavagadh:Pavagadh:3000:300"

// ParseVenues parses "id:name:capacity[:slot_capacity];..." into venues with
// default thresholds applied.  Every venue is validated.
func ParseVenues(s string) ([]model.Venue, error) {
	if strings.TrimSpace(s) == "" {
		s = DefaultSeedVenues
	}
	var out []model.Venue
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("seed venue %q: want id:name:capacity[:slot]", item)
		}
		capTotal, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("seed venue %q: capacity: %w", item, err)
		}
		v := model.Venue{ID: strings.TrimSpace(parts[0]), Name: strings.TrimSpace(parts[1]), CapacityTotal: capTotal}
		if len(parts) == 4 {
			if v.SlotCapacity, err = strconv.ParseInt(parts[3], 10, 64); err != nil {
				return nil, fmt.Errorf("seed venue %q: slot capacity: %w", item, err)
			}
		}
		v = v.WithDefaults()
		if err := v.Validate(); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
