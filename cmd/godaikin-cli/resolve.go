package main

import (
	"fmt"
	"sort"
	"strings"
)

// normalizeName makes "Living Room" match "living_room" and "living-room".
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveUnit matches input against unit ids first, then display names.
func resolveUnit(input string, units []unitDetail) (string, error) {
	for _, u := range units {
		if u.ID == input {
			return u.ID, nil
		}
	}
	needle := normalizeName(input)
	for _, u := range units {
		if normalizeName(u.Name) == needle {
			return u.ID, nil
		}
	}

	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	sort.Strings(names)
	return "", fmt.Errorf("unit %q not found. Available: %s", input, strings.Join(names, ", "))
}
