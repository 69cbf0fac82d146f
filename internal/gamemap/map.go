package gamemap

import (
	"encoding/binary"
	"fmt"
	"log"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/gravitas-games/tactics-reach/internal/grid"
)

// GameMap is the sparse index of every tile that exists. A coordinate with no
// entry is off-map and can never be entered. A GameMap is not modified after
// construction, so concurrent readers need no locking.
type GameMap struct {
	chunks      map[grid.Coord]*Chunk
	tileCount   int
	fingerprint uint64
}

// New builds a map from a full coordinate -> terrain dump.
func New(tiles map[grid.Coord]Code) (*GameMap, error) {
	gm := &GameMap{chunks: make(map[grid.Coord]*Chunk)}
	for pos, code := range tiles {
		if err := gm.set(pos, code); err != nil {
			return nil, err
		}
	}
	gm.fingerprint = gm.computeFingerprint()
	return gm, nil
}

// TerrainWeight is one entry of the terrain mix used by Generate.
type TerrainWeight struct {
	Code   Code
	Weight int
}

// Generate creates a width x height map covering x in [0,width) and
// y in [0,height). Each tile's terrain is picked from terrains by weight,
// driven by a hash of the seed and coordinate, so the same inputs always
// produce the same map.
func Generate(width, height int, seed int64, terrains []TerrainWeight) (*GameMap, error) {
	log.Printf("Generating %dx%d game map with seed %d", width, height, seed)

	total := 0
	for _, t := range terrains {
		if t.Code == 0 {
			return nil, ErrReservedTerrain
		}
		if t.Weight < 0 {
			return nil, fmt.Errorf("terrain %d has negative weight %d", t.Code, t.Weight)
		}
		total += t.Weight
	}
	if total == 0 {
		return nil, fmt.Errorf("terrain weights sum to zero")
	}

	gm := &GameMap{chunks: make(map[grid.Coord]*Chunk)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pos := grid.Coord{X: x, Y: y}
			pick := int(grid.Hash(seed, pos) % uint64(total))
			for _, t := range terrains {
				if pick < t.Weight {
					gm.set(pos, t.Code)
					break
				}
				pick -= t.Weight
			}
		}
	}
	gm.fingerprint = gm.computeFingerprint()

	log.Printf("Game map generated with %d tiles in %d chunks", gm.tileCount, len(gm.chunks))
	return gm, nil
}

func (gm *GameMap) set(pos grid.Coord, code Code) error {
	if code == 0 {
		return fmt.Errorf("tile %d,%d: %w", pos.X, pos.Y, ErrReservedTerrain)
	}
	chunkPos, local := chunkOf(pos)
	chunk, exists := gm.chunks[chunkPos]
	if !exists {
		chunk = NewChunk(chunkPos)
		gm.chunks[chunkPos] = chunk
	}
	before := chunk.TileCount()
	chunk.set(local, code)
	gm.tileCount += chunk.TileCount() - before
	return nil
}

// TerrainAt returns the terrain at pos, or false if pos is off-map.
func (gm *GameMap) TerrainAt(pos grid.Coord) (Code, bool) {
	chunkPos, local := chunkOf(pos)
	chunk, exists := gm.chunks[chunkPos]
	if !exists {
		return 0, false
	}
	return chunk.Get(local)
}

// TileCount returns the number of tiles on the map
func (gm *GameMap) TileCount() int {
	return gm.tileCount
}

// Fingerprint identifies the map contents. Two maps with the same tiles have
// the same fingerprint.
func (gm *GameMap) Fingerprint() uint64 {
	return gm.fingerprint
}

func (gm *GameMap) computeFingerprint() uint64 {
	keys := make([]grid.Coord, 0, len(gm.chunks))
	for k := range gm.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		return keys[i].X < keys[j].X
	})

	d := xxhash.New()
	var buf [8]byte
	write := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}
	for _, k := range keys {
		chunk := gm.chunks[k]
		if chunk.TileCount() == 0 {
			continue
		}
		write(k.X)
		write(k.Y)
		for _, code := range chunk.tiles {
			write(int(code))
		}
	}
	return d.Sum64()
}
