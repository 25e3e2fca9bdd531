// Package simulation generates deterministic, versioned multi-source
// detector trains for the bridge server. Detector families are plain
// records; behavior over them (shapes, passports, module positions) is
// free functions and methods, not a type hierarchy.
package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownDetector  = errors.New("simulation: unknown detector family")
	ErrUnknownGenerator = errors.New("simulation: unknown data generator")
	ErrModuleNotInGrid  = errors.New("simulation: module index not in layout grid")
)

// Family describes one detector geometry and its constant field block.
type Family struct {
	Name          string
	Pulses        int
	Modules       int
	ModY          int
	ModX          int
	PixelSize     float64 // mm
	Distance      float64 // sample to detector, mm
	Layout        [][]int // super-module layout grid
	DefaultSource string

	constFields func() map[string]any
}

// DataShape is the image array shape: (modules, mod_y, mod_x, pulses).
func (f Family) DataShape() []int {
	return []int{f.Modules, f.ModY, f.ModX, f.Pulses}
}

// ModulePosition returns the (x, y) grid cell of one super module.
func (f Family) ModulePosition(ix int) (int, int, error) {
	for y, row := range f.Layout {
		for x, v := range row {
			if v == ix {
				return x, y, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: %d", ErrModuleNotInGrid, ix)
}

var agipdLayout = [][]int{
	{12, 0},
	{13, 1},
	{14, 2},
	{15, 3},
	{8, 4},
	{9, 5},
	{10, 6},
	{11, 7},
}

var lpdLayout = [][]int{
	{15, 12, 3, 0},
	{14, 13, 2, 1},
	{11, 8, 7, 4},
	{10, 9, 6, 5},
}

func agipdConstFields() map[string]any {
	return map[string]any{
		"checksum":                bytes.Repeat([]byte{0x00}, 16),
		"data":                    bytes.Repeat([]byte{0x01}, 416),
		"dataId":                  uint64(0),
		"linkId":                  uint64(18446744069414584335),
		"magicNumberBegin":        []byte("\xce\xfa\xef\xbeFDTX"),
		"magicNumberEnd":          []byte("\xcd\xab\xad\xdeFDTX"),
		"majorTrainFormatVersion": uint64(2),
		"minorTrainFormatVersion": uint64(1),
		"reserved":                bytes.Repeat([]byte{0x00}, 16),
		"status":                  uint64(0),
	}
}

func lpdConstFields() map[string]any {
	return map[string]any{
		"checksum":                bytes.Repeat([]byte{0x11}, 16),
		"data":                    bytes.Repeat([]byte{0xff}, 416),
		"dataId":                  uint64(0),
		"linkId":                  uint64(18446744069414584320),
		"magicNumberBegin":        []byte("\xce\xfa\xef\xbeFDTX"),
		"magicNumberEnd":          []byte("\xcd\xab\xad\xdeFDTX"),
		"majorTrainFormatVersion": uint64(2),
		"minorTrainFormatVersion": uint64(1),
		"reserved":                bytes.Repeat([]byte{0x00}, 16),
		"status":                  uint64(0),
	}
}

var families = map[string]Family{
	"AGIPD": {
		Name:          "AGIPD",
		Pulses:        64,
		Modules:       16,
		ModY:          128,
		ModX:          512,
		PixelSize:     0.2,
		Distance:      2000,
		Layout:        agipdLayout,
		DefaultSource: "SPB_DET_AGIPD1M-1/DET/detector",
		constFields:   agipdConstFields,
	},
	"AGIPDModule": {
		Name:          "AGIPDModule",
		Pulses:        64,
		Modules:       1,
		ModY:          128,
		ModX:          512,
		PixelSize:     0.2,
		Distance:      2000,
		Layout:        agipdLayout,
		DefaultSource: "SPB_DET_AGIPD1M-1/DET/0CH0:xtdf",
		constFields:   agipdConstFields,
	},
	"LPD": {
		Name:          "LPD",
		Pulses:        300,
		Modules:       16,
		ModY:          256,
		ModX:          256,
		PixelSize:     0.5,
		Distance:      275,
		Layout:        lpdLayout,
		DefaultSource: "FXE_DET_LPD1M-1/DET/detector",
		constFields:   lpdConstFields,
	},
}

// LookupFamily resolves a detector family name. Unknown names fail here,
// at construction time.
func LookupFamily(name string) (Family, error) {
	f, ok := families[name]
	if !ok {
		return Family{}, fmt.Errorf("%w: %q", ErrUnknownDetector, name)
	}
	return f, nil
}

// FamilyNames lists the available detector families in sorted order.
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
