package gamemap

import (
	"github.com/gravitas-games/tactics-reach/internal/grid"
)

// ChunkSize is the edge length of a square storage chunk, in tiles.
const ChunkSize = 16

// Chunk is a dense ChunkSize x ChunkSize block of terrain codes.
// A zero code means the tile does not exist.
type Chunk struct {
	ChunkPos grid.Coord // Position in chunk grid
	tiles    [ChunkSize * ChunkSize]Code
	count    int
}

// NewChunk creates an empty chunk at the specified chunk position
func NewChunk(chunkPos grid.Coord) *Chunk {
	return &Chunk{ChunkPos: chunkPos}
}

// chunkOf splits a world coordinate into its chunk position and local offset.
// Uses floor division so negative coordinates land in the right chunk.
func chunkOf(world grid.Coord) (chunkPos grid.Coord, local grid.Coord) {
	cx, lx := floorDiv(world.X, ChunkSize)
	cy, ly := floorDiv(world.Y, ChunkSize)
	return grid.Coord{X: cx, Y: cy}, grid.Coord{X: lx, Y: ly}
}

func floorDiv(v, n int) (q, r int) {
	q = v / n
	r = v % n
	if r < 0 {
		q--
		r += n
	}
	return q, r
}

// Get returns the terrain at a local position within this chunk
func (c *Chunk) Get(local grid.Coord) (Code, bool) {
	code := c.tiles[local.Y*ChunkSize+local.X]
	return code, code != 0
}

func (c *Chunk) set(local grid.Coord, code Code) {
	idx := local.Y*ChunkSize + local.X
	if c.tiles[idx] == 0 {
		c.count++
	}
	c.tiles[idx] = code
}

// TileCount returns the number of tiles present in this chunk
func (c *Chunk) TileCount() int {
	return c.count
}
