package grid

// Ring returns the coordinates at exact Manhattan distance k from c, starting
// straight up and walking clockwise. If k==0, returns [c].
func Ring(c Coord, k int) []Coord {
	if k <= 0 {
		return []Coord{c}
	}
	res := make([]Coord, 0, 4*k)
	// corners of the diamond, clockwise from the top
	sides := []Coord{{+1, +1}, {-1, +1}, {-1, -1}, {+1, -1}}
	cur := c.Add(Coord{0, -k})
	for _, step := range sides {
		for i := 0; i < k; i++ {
			res = append(res, cur)
			cur = cur.Add(step)
		}
	}
	return res
}

// Diamond returns all coordinates within Manhattan distance r of c, ring by ring.
func Diamond(c Coord, r int) []Coord {
	if r < 0 {
		return nil
	}
	res := make([]Coord, 0, 1+2*r*(r+1))
	for k := 0; k <= r; k++ {
		res = append(res, Ring(c, k)...)
	}
	return res
}
