package grid

// Coord is a tile position on a square grid. Y grows downward, so "up" is Y-1.
type Coord struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Directions lists the four orthogonal steps in the order neighbors are checked:
// up, down, left, right.
var Directions = []Coord{
	{0, -1}, {0, +1}, {-1, 0}, {+1, 0},
}

// Add returns a+b.
func (a Coord) Add(b Coord) Coord { return Coord{a.X + b.X, a.Y + b.Y} }

// Neighbors returns the four orthogonal neighbors of a in Directions order.
func (a Coord) Neighbors() [4]Coord {
	var out [4]Coord
	for i, d := range Directions {
		out[i] = a.Add(d)
	}
	return out
}

// Positive reports whether both axes are strictly greater than zero.
func (a Coord) Positive() bool { return a.X > 0 && a.Y > 0 }

// Distance returns the Manhattan distance between a and b.
func Distance(a, b Coord) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Hash mixes a seed with a coordinate into a well-distributed 64-bit value.
// The same seed and coordinate always produce the same result.
func Hash(seed int64, a Coord) uint64 {
	x := uint64(seed)
	x ^= uint64(uint32(a.X)) * 0x9E3779B97F4A7C15
	x ^= uint64(uint32(a.Y)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	x ^= x >> 31
	return x
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
