// Package reach computes which tiles a unit can move to within a movement budget.
package reach

import (
	"encoding/binary"
	"log"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/gravitas-games/tactics-reach/internal/gamemap"
	"github.com/gravitas-games/tactics-reach/internal/grid"
)

// Status marks whether a tile in a result can be moved to.
type Status int

const (
	CannotMove Status = 0
	CanMove    Status = 1
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case CanMove:
		return "CanMove"
	case CannotMove:
		return "CannotMove"
	default:
		return "Unknown"
	}
}

// Tile is one entry of a reach result. Cost is the movement spent from the
// origin to enter the tile, not the budget left over.
type Tile struct {
	Pos    grid.Coord `json:"pos"`
	Cost   int        `json:"cost"`
	Status Status     `json:"status"`
}

// TerrainSource looks up the terrain at a coordinate.
type TerrainSource interface {
	TerrainAt(pos grid.Coord) (gamemap.Code, bool)
}

// Query describes one reachability request.
type Query struct {
	Origin          grid.Coord
	Budget          int
	Affinity        gamemap.Affinity // optional
	IncludeFrontier bool
}

// Engine runs reachability queries against a fixed map and cost table.
// An Engine holds no per-query state and is safe for concurrent use.
type Engine struct {
	terrain   TerrainSource
	costs     gamemap.CostTable
	minStep   int
	maxBudget int
	logOffMap bool
	logger    *log.Logger

	fingerprint uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinStep sets the cost given to a non-origin tile whose accumulated cost
// comes out zero or negative. Values below 1 are ignored.
func WithMinStep(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.minStep = n
		}
	}
}

// WithMaxBudget caps the budget of a single query. Zero means no cap.
func WithMaxBudget(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxBudget = n
		}
	}
}

// WithOffMapLogging logs every neighbor lookup that falls off the map.
func WithOffMapLogging(enabled bool) Option {
	return func(e *Engine) { e.logOffMap = enabled }
}

// WithLogger sends diagnostics to l instead of the standard logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over terrain. A nil cost table falls back to
// gamemap.DefaultCostTable.
func NewEngine(terrain TerrainSource, costs gamemap.CostTable, opts ...Option) *Engine {
	if costs == nil {
		costs = gamemap.DefaultCostTable()
	}
	e := &Engine{
		terrain: terrain,
		costs:   costs,
		minStep: 1,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.fingerprint = e.computeFingerprint()
	return e
}

// Fingerprint identifies everything besides the query that a result depends
// on: the terrain, the cost table, the floor and the budget cap. Terrain is
// only covered when the source has a Fingerprint method of its own.
func (e *Engine) Fingerprint() uint64 {
	return e.fingerprint
}

func (e *Engine) computeFingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	write := func(v int64) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}

	if fp, ok := e.terrain.(interface{ Fingerprint() uint64 }); ok {
		write(int64(fp.Fingerprint()))
	}
	codes := make([]int, 0, len(e.costs))
	for code := range e.costs {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	write(int64(len(codes)))
	for _, code := range codes {
		write(int64(code))
		write(int64(e.costs[gamemap.Code(code)]))
	}
	write(int64(e.minStep))
	write(int64(e.maxBudget))
	return d.Sum64()
}
