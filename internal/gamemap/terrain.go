package gamemap

import (
	"errors"
	"fmt"
)

// Code identifies a terrain kind. Zero is reserved for "unset" and never
// names a real terrain.
type Code int

// UnreachableCost is charged for terrain with no configured cost, which keeps
// such tiles out of any realistic movement budget.
const UnreachableCost = 999999

var (
	// ErrUnknownTerrain is returned when a terrain code has no cost entry.
	ErrUnknownTerrain = errors.New("terrain has no movement cost")
	// ErrReservedTerrain is returned when terrain code 0 is used for a tile.
	ErrReservedTerrain = errors.New("terrain code 0 is reserved")
)

// CostTable maps a terrain code to the base movement cost of entering it.
type CostTable map[Code]int

// DefaultCostTable is used when a map is loaded without a cost configuration:
// a single terrain kind that costs 1 to enter.
func DefaultCostTable() CostTable {
	return CostTable{1: 1}
}

// BaseCost returns the cost to enter terrain code. Codes without an entry cost
// UnreachableCost and report ErrUnknownTerrain; the error is a warning, the
// returned cost is always usable.
func (t CostTable) BaseCost(code Code) (int, error) {
	cost, ok := t[code]
	if !ok {
		return UnreachableCost, fmt.Errorf("%w: code %d", ErrUnknownTerrain, code)
	}
	return cost, nil
}

// Affinity holds one unit's signed cost adjustments per terrain. Negative
// deltas make a terrain cheaper, positive ones more expensive. A nil Affinity
// is valid and adjusts nothing.
type Affinity map[Code]int

// Delta returns the adjustment for code and whether one is configured.
func (a Affinity) Delta(code Code) (int, bool) {
	d, ok := a[code]
	return d, ok
}

// EntryCost combines a base cost with the unit's adjustment for code.
func EntryCost(costs CostTable, affinity Affinity, code Code) (int, error) {
	cost, err := costs.BaseCost(code)
	if err != nil {
		return cost, err
	}
	if d, ok := affinity.Delta(code); ok {
		cost += d
	}
	return cost, nil
}
