package models

import "github.com/gravitas-games/tactics-reach/internal/grid"

// Unit is a piece on the map that can be moved by its owner
type Unit struct {
	ID       string     `json:"id"`
	Owner    string     `json:"owner"` // Player ID
	Position grid.Coord `json:"position"`
	Movement int        `json:"movement"` // Budget per move
	Profile  string     `json:"profile"`  // Name of the unit profile in config
}
