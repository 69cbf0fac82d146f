package reach

import (
	"github.com/gravitas-games/tactics-reach/internal/gamemap"
	"github.com/gravitas-games/tactics-reach/internal/grid"
)

// scan is the transient state of a single query.
type scan struct {
	engine   *Engine
	affinity gamemap.Affinity
	budget   int

	tiles    []Tile                  // accepted tiles, origin first
	accepted map[grid.Coord]struct{} // coordinates in tiles
	frontier []Tile                  // rejected tiles, first rejection only
	rejected map[grid.Coord]struct{} // coordinates in frontier
}

// Compute returns the tiles reachable from q.Origin within q.Budget. The origin
// is always first, with cost 0 and status CanMove, even if it is off-map.
// When q.IncludeFrontier is set, tiles that were evaluated but cost more than
// the budget are appended with status CannotMove.
//
// Expansion runs exactly budget steps. Each step expands every tile accepted
// since the previous step began, including tiles accepted during the step
// itself. A tile keeps the cost it was first accepted with.
func (e *Engine) Compute(q Query) []Tile {
	budget := e.clampBudget(q.Budget)

	s := &scan{
		engine:   e,
		affinity: q.Affinity,
		budget:   budget,
		accepted: make(map[grid.Coord]struct{}),
		rejected: make(map[grid.Coord]struct{}),
	}
	s.tiles = append(s.tiles, Tile{Pos: q.Origin, Cost: 0, Status: CanMove})
	s.accepted[q.Origin] = struct{}{}

	cursor := 0
	for step := 0; step < budget; step++ {
		cursor = s.expand(cursor)
	}

	if !q.IncludeFrontier {
		return s.tiles
	}
	out := s.tiles
	for _, t := range s.frontier {
		// a tile rejected from one parent may still be accepted from another
		if _, ok := s.accepted[t.Pos]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// expand checks the neighbors of every tile from start to the end of the
// accepted list, which may grow while it runs. It returns the list length
// from before the step so the next step starts there.
func (s *scan) expand(start int) int {
	n := len(s.tiles)
	for i := start; i < len(s.tiles); i++ {
		parent := s.tiles[i]
		for _, nb := range parent.Pos.Neighbors() {
			s.check(nb, parent.Cost)
		}
	}
	return n
}

// check evaluates one neighbor reached from a parent that has spent
// parentCost so far.
func (s *scan) check(pos grid.Coord, parentCost int) {
	// the map has a hard lower edge at 0 on both axes
	if !pos.Positive() {
		return
	}
	code, ok := s.engine.terrain.TerrainAt(pos)
	if !ok {
		if s.engine.logOffMap {
			s.engine.logger.Printf("Position %d,%d is off-map, cannot move", pos.X, pos.Y)
		}
		return
	}
	if _, seen := s.accepted[pos]; seen {
		return
	}

	cost, err := gamemap.EntryCost(s.engine.costs, s.affinity, code)
	if err != nil {
		s.engine.logger.Printf("Warning: %v at %d,%d", err, pos.X, pos.Y)
	}
	value := parentCost + cost
	// zero or negative totals from strong bonuses still spend the floor
	if value <= 0 {
		value = s.engine.minStep
	}

	if value <= s.budget {
		s.tiles = append(s.tiles, Tile{Pos: pos, Cost: value, Status: CanMove})
		s.accepted[pos] = struct{}{}
		return
	}
	if _, seen := s.rejected[pos]; seen {
		return
	}
	s.frontier = append(s.frontier, Tile{Pos: pos, Cost: value, Status: CannotMove})
	s.rejected[pos] = struct{}{}
}

func (e *Engine) clampBudget(budget int) int {
	if budget < 0 {
		e.logger.Printf("Warning: negative movement budget %d, using 0", budget)
		return 0
	}
	if e.maxBudget > 0 && budget > e.maxBudget {
		e.logger.Printf("Warning: movement budget %d exceeds maximum %d, capping", budget, e.maxBudget)
		return e.maxBudget
	}
	return budget
}

// Reachable filters tiles down to those with status CanMove.
func Reachable(tiles []Tile) []Tile {
	out := make([]Tile, 0, len(tiles))
	for _, t := range tiles {
		if t.Status == CanMove {
			out = append(out, t)
		}
	}
	return out
}

// Frontier filters tiles down to those with status CannotMove.
func Frontier(tiles []Tile) []Tile {
	var out []Tile
	for _, t := range tiles {
		if t.Status == CannotMove {
			out = append(out, t)
		}
	}
	return out
}

// Find returns the tile at pos, if present.
func Find(tiles []Tile, pos grid.Coord) (Tile, bool) {
	for _, t := range tiles {
		if t.Pos == pos {
			return t, true
		}
	}
	return Tile{}, false
}
