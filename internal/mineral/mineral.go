// Package mineral defines the canonical mineral record and the single
// transformer that maps raw upstream JSON or parsed dataset rows onto it.
// This package has no I/O dependencies and can be used by any ingestion path.
package mineral

import (
	"fmt"
	"time"
)

// Record is the canonical local representation of a mineral.
// IDs are upstream-assigned; rows that arrive without one (offline dataset
// exports) get a deterministic placeholder ID derived from the name.
type Record struct {
	ID             int64
	Name           string
	Formula        string
	CrystalSystem  string
	CrystalClassID *int64
	SpaceGroup     string

	// Unit-cell parameters. Nil when the source does not report them.
	CellA     *float64
	CellB     *float64
	CellC     *float64
	CellAlpha *float64
	CellBeta  *float64
	CellGamma *float64

	// Elements present in the mineral, by symbol. Never nil after
	// transformation; extracted from the formula when not explicit.
	Elements []string

	Description string
	IMAStatus   string

	// SourceUpdateTime is the upstream modification timestamp. It only
	// ever moves forward for a given ID under the sync merge policy.
	SourceUpdateTime   *time.Time
	LastUpdatedLocally time.Time
	IsActive           bool
}

// crystalClassNames maps upstream crystal class IDs to system names.
var crystalClassNames = map[int64]string{
	1: "Isometric (Cubic)",
	2: "Hexagonal",
	3: "Tetragonal",
	4: "Orthorhombic",
	5: "Monoclinic",
	6: "Triclinic",
	7: "Trigonal",
	8: "Amorphous",
}

// CrystalClassName converts a crystal class ID to a human-readable crystal
// system name. Nil IDs render as "Unknown"; unmapped IDs keep the numeric
// value visible so bad upstream data is diagnosable.
func CrystalClassName(classID *int64) string {
	if classID == nil {
		return "Unknown"
	}
	if name, ok := crystalClassNames[*classID]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Crystal Class (%d)", *classID)
}

// SystemInfo describes a crystal system for the explorer surface.
type SystemInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
}

var crystalSystemInfo = map[string]SystemInfo{
	"Isometric (Cubic)": {
		Description: "Has three equal axes at right angles. Characterized by high symmetry and includes common minerals like pyrite, halite, and fluorite.",
		Examples:    []string{"Pyrite", "Halite", "Fluorite", "Galena", "Diamond"},
	},
	"Hexagonal": {
		Description: "Has three equal axes in one plane at 120° angles, and a fourth axis perpendicular to this plane. Includes minerals like beryl and apatite.",
		Examples:    []string{"Beryl", "Apatite", "Vanadinite"},
	},
	"Tetragonal": {
		Description: "Has three axes at right angles, with two being equal in length. Includes minerals like zircon and rutile.",
		Examples:    []string{"Zircon", "Rutile", "Vesuvianite"},
	},
	"Orthorhombic": {
		Description: "Has three unequal axes at right angles. Includes minerals like olivine and topaz.",
		Examples:    []string{"Olivine", "Topaz", "Baryte", "Aragonite"},
	},
	"Monoclinic": {
		Description: "Has three unequal axes with one oblique intersection. Includes minerals like gypsum and orthoclase.",
		Examples:    []string{"Gypsum", "Orthoclase", "Hornblende", "Malachite"},
	},
	"Triclinic": {
		Description: "Has three unequal axes with oblique intersections. The least symmetrical system, including minerals like plagioclase and kyanite.",
		Examples:    []string{"Plagioclase", "Kyanite", "Turquoise", "Microcline"},
	},
	"Trigonal": {
		Description: "Previously considered part of the hexagonal system, it has three equal axes at 120° angles. Includes quartz and calcite.",
		Examples:    []string{"Quartz", "Calcite", "Corundum", "Tourmaline"},
	},
	"Amorphous": {
		Description: "No definite crystalline structure. Includes minerals like opal which lack a regular internal atomic arrangement.",
		Examples:    []string{"Opal", "Obsidian", "Limonite"},
	},
}

// CrystalSystemInfo returns display information for the crystal system
// identified by classID.
func CrystalSystemInfo(classID *int64) SystemInfo {
	name := CrystalClassName(classID)
	info, ok := crystalSystemInfo[name]
	if !ok {
		info = SystemInfo{
			Description: "No additional information available for this crystal system.",
			Examples:    []string{},
		}
	}
	info.Name = name
	return info
}
