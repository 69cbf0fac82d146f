package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gravitas-games/tactics-reach/internal/config"
	"github.com/gravitas-games/tactics-reach/internal/gamemap"
	"github.com/gravitas-games/tactics-reach/internal/grid"
	"github.com/gravitas-games/tactics-reach/internal/network"
	"github.com/gravitas-games/tactics-reach/internal/reach"
	"github.com/gravitas-games/tactics-reach/pkg/models"
)

var (
	ErrSessionFull    = errors.New("session is full")
	ErrNoSpawnTile    = errors.New("no free tile to spawn on")
	ErrUnitNotFound   = errors.New("unit not found")
	ErrNotOwner       = errors.New("unit belongs to another player")
	ErrUnknownProfile = errors.New("unknown unit profile")
	ErrInvalidQuery   = errors.New("invalid reach query")
	ErrTileOccupied   = errors.New("tile is occupied")
	ErrUnreachable    = errors.New("tile is not reachable")
	ErrUnitMoved      = errors.New("unit moved while the move was checked")
)

// profile is a resolved unit profile
type profile struct {
	movement int
	affinity gamemap.Affinity
}

// Session represents a game session
type Session struct {
	ID        string
	CreatedAt time.Time

	// Player management
	players     map[string]*models.Player // playerID -> Player
	connections map[string]*Connection    // playerID -> Connection
	units       map[string]*models.Unit   // unitID -> Unit
	mu          sync.RWMutex

	// Map and movement rules, read-only after creation
	gameMap  *gamemap.GameMap
	engine   *reach.Engine
	profiles map[string]profile
	cache    *ReachCache

	// Configuration
	config *config.Config
}

// NewSession creates a new game session. cache may be nil.
func NewSession(id string, cfg *config.Config, cache *ReachCache) (*Session, error) {
	log.Printf("Creating session: %s", id)

	weights := make([]gamemap.TerrainWeight, 0, len(cfg.Map.Terrains))
	costs := make(gamemap.CostTable, len(cfg.Map.Terrains))
	for _, t := range cfg.Map.Terrains {
		weights = append(weights, gamemap.TerrainWeight{Code: gamemap.Code(t.Code), Weight: t.Weight})
		costs[gamemap.Code(t.Code)] = t.Cost
	}

	gameMap, err := gamemap.Generate(cfg.Map.Width, cfg.Map.Height, cfg.Map.Seed, weights)
	if err != nil {
		return nil, fmt.Errorf("failed to generate map: %w", err)
	}

	profiles := make(map[string]profile, len(cfg.Units.Profiles))
	for name, p := range cfg.Units.Profiles {
		var aff gamemap.Affinity
		if len(p.Affinity) > 0 {
			aff = make(gamemap.Affinity, len(p.Affinity))
			for code, delta := range p.Affinity {
				aff[gamemap.Code(code)] = delta
			}
		}
		profiles[name] = profile{movement: p.Movement, affinity: aff}
	}

	session := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		players:     make(map[string]*models.Player),
		connections: make(map[string]*Connection),
		units:       make(map[string]*models.Unit),
		gameMap:     gameMap,
		engine: reach.NewEngine(gameMap, costs,
			reach.WithMinStep(cfg.Reach.MinStep),
			reach.WithMaxBudget(cfg.Reach.MaxBudget),
			reach.WithOffMapLogging(cfg.Reach.LogOffMap),
		),
		profiles: profiles,
		cache:    cache,
		config:   cfg,
	}

	log.Printf("Session %s created with %dx%d map", id, cfg.Map.Width, cfg.Map.Height)
	return session, nil
}

// AddPlayer adds a player to the session and spawns their unit.
// conn may be nil for players that receive no broadcasts.
func (s *Session) AddPlayer(player *models.Player, conn *Connection) (*models.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.players[player.ID]; !exists && len(s.players) >= s.config.Session.MaxPlayers {
		return nil, ErrSessionFull
	}

	s.players[player.ID] = player
	if conn != nil {
		s.connections[player.ID] = conn
	}

	// rejoining players keep their units
	for _, u := range s.units {
		if u.Owner == player.ID {
			log.Printf("Player %s (%s) rejoined session %s", player.Username, player.ID, s.ID)
			unit := *u
			return &unit, nil
		}
	}

	pos, err := s.spawnPosition(player.ID)
	if err != nil {
		delete(s.players, player.ID)
		delete(s.connections, player.ID)
		return nil, err
	}
	name := s.config.Units.DefaultProfile
	unit := &models.Unit{
		ID:       player.ID + "-1",
		Owner:    player.ID,
		Position: pos,
		Movement: s.profiles[name].movement,
		Profile:  name,
	}
	s.units[unit.ID] = unit

	log.Printf("Player %s (%s) joined session %s, unit %s at %d,%d",
		player.Username, player.ID, s.ID, unit.ID, pos.X, pos.Y)
	spawned := *unit
	return &spawned, nil
}

// spawnPosition picks a free on-map tile for a player, starting from a
// position derived from the player ID and scanning row by row.
// Caller must hold s.mu.
func (s *Session) spawnPosition(playerID string) (grid.Coord, error) {
	w, h := s.config.Map.Width, s.config.Map.Height
	if w <= 1 || h <= 1 {
		return grid.Coord{}, ErrNoSpawnTile
	}
	occupied := make(map[grid.Coord]bool, len(s.units))
	for _, u := range s.units {
		occupied[u.Position] = true
	}

	// only x,y >= 1 can be left again, so skip row and column 0
	area := (w - 1) * (h - 1)
	start := int(xxhash.Sum64String(playerID) % uint64(area))
	for i := 0; i < area; i++ {
		idx := (start + i) % area
		pos := grid.Coord{X: 1 + idx%(w-1), Y: 1 + idx/(w-1)}
		if _, ok := s.gameMap.TerrainAt(pos); !ok || occupied[pos] {
			continue
		}
		return pos, nil
	}
	return grid.Coord{}, ErrNoSpawnTile
}

// RemovePlayer removes a player and their units from the session. When conn
// is set, nothing happens unless conn is the player's current connection, so a
// stale connection closing cannot remove a player who reconnected.
// It reports whether the player was removed.
func (s *Session) RemovePlayer(playerID string, conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, exists := s.players[playerID]
	if !exists {
		return false
	}
	if conn != nil && s.connections[playerID] != conn {
		log.Printf("Ignoring leave from a replaced connection of player %s", playerID)
		return false
	}
	log.Printf("Player %s (%s) left session %s", player.Username, playerID, s.ID)
	delete(s.players, playerID)
	delete(s.connections, playerID)
	for id, u := range s.units {
		if u.Owner == playerID {
			delete(s.units, id)
		}
	}
	return true
}

// GetUnit returns a copy of a unit by ID
func (s *Session) GetUnit(unitID string) (models.Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, exists := s.units[unitID]
	if !exists {
		return models.Unit{}, false
	}
	return *u, true
}

// Units returns copies of all units, ordered by ID
func (s *Session) Units() []*models.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]*models.Unit, 0, len(s.units))
	for _, u := range s.units {
		unit := *u
		units = append(units, &unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units
}

// Reach answers a reach query from a client
func (s *Session) Reach(ctx context.Context, p network.ReachPayload) (*network.ReachResultPayload, error) {
	q, err := s.buildQuery(p)
	if err != nil {
		return nil, err
	}
	tiles, cached := s.computeReach(ctx, q)
	return &network.ReachResultPayload{
		UnitID: p.UnitID,
		Origin: q.Origin,
		Budget: q.Budget,
		Cached: cached,
		Tiles:  tiles,
	}, nil
}

func (s *Session) buildQuery(p network.ReachPayload) (reach.Query, error) {
	var q reach.Query
	profileName := p.Profile

	if p.UnitID != "" {
		u, ok := s.GetUnit(p.UnitID)
		if !ok {
			return q, fmt.Errorf("%w: %s", ErrUnitNotFound, p.UnitID)
		}
		q.Origin = u.Position
		q.Budget = u.Movement
		if profileName == "" {
			profileName = u.Profile
		}
	} else if p.Origin == nil || p.Budget == nil {
		return q, fmt.Errorf("%w: origin and budget are required without a unit", ErrInvalidQuery)
	}
	if p.Origin != nil {
		q.Origin = *p.Origin
	}
	if p.Budget != nil {
		q.Budget = *p.Budget
	}

	var base gamemap.Affinity
	if profileName != "" {
		prof, ok := s.profiles[profileName]
		if !ok {
			return q, fmt.Errorf("%w: %s", ErrUnknownProfile, profileName)
		}
		base = prof.affinity
	}
	q.Affinity = mergeAffinity(base, p.Affinity)
	q.IncludeFrontier = p.IncludeFrontier
	return q, nil
}

// mergeAffinity layers explicit deltas over a profile's deltas
func mergeAffinity(base gamemap.Affinity, overrides map[int]int) gamemap.Affinity {
	if len(overrides) == 0 {
		return base
	}
	out := make(gamemap.Affinity, len(base)+len(overrides))
	for code, d := range base {
		out[code] = d
	}
	for code, d := range overrides {
		out[gamemap.Code(code)] = d
	}
	return out
}

func (s *Session) computeReach(ctx context.Context, q reach.Query) ([]reach.Tile, bool) {
	key := s.cache.Key(s.engine.Fingerprint(), q)
	if tiles, ok := s.cache.Get(ctx, key); ok {
		return tiles, true
	}
	tiles := s.engine.Compute(q)
	s.cache.Set(ctx, key, tiles)
	return tiles, false
}

// MoveUnit moves a player's unit to a tile it can reach this turn. The reach
// check runs without the session lock, so the unit and the target are checked
// again before the move is committed.
func (s *Session) MoveUnit(ctx context.Context, playerID string, p network.MovePayload) (*network.UnitMovedPayload, error) {
	unit, exists := s.GetUnit(p.UnitID)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, p.UnitID)
	}
	if unit.Owner != playerID {
		return nil, ErrNotOwner
	}

	from := unit.Position
	if p.Target == from {
		return &network.UnitMovedPayload{UnitID: unit.ID, Owner: unit.Owner, From: from, To: from}, nil
	}
	s.mu.RLock()
	err := s.checkFree(unit.ID, p.Target)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	tiles, _ := s.computeReach(ctx, reach.Query{
		Origin:   from,
		Budget:   unit.Movement,
		Affinity: s.profiles[unit.Profile].affinity,
	})
	tile, ok := reach.Find(tiles, p.Target)
	if !ok || tile.Status != reach.CanMove {
		return nil, fmt.Errorf("%w: %d,%d", ErrUnreachable, p.Target.X, p.Target.Y)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.units[p.UnitID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, p.UnitID)
	}
	if u.Position != from || u.Movement != unit.Movement || u.Profile != unit.Profile {
		return nil, ErrUnitMoved
	}
	if err := s.checkFree(u.ID, p.Target); err != nil {
		return nil, err
	}

	u.Position = p.Target
	log.Printf("Unit %s moved from %d,%d to %d,%d (cost %d)", u.ID, from.X, from.Y, p.Target.X, p.Target.Y, tile.Cost)
	return &network.UnitMovedPayload{
		UnitID: u.ID,
		Owner:  u.Owner,
		From:   from,
		To:     p.Target,
		Cost:   tile.Cost,
	}, nil
}

// checkFree fails if a unit other than unitID stands on pos.
// Caller must hold s.mu.
func (s *Session) checkFree(unitID string, pos grid.Coord) error {
	for _, other := range s.units {
		if other.ID != unitID && other.Position == pos {
			return fmt.Errorf("%w: %d,%d", ErrTileOccupied, pos.X, pos.Y)
		}
	}
	return nil
}

// MapInfo describes the session map
func (s *Session) MapInfo() network.MapInfo {
	return network.MapInfo{
		Width:       s.config.Map.Width,
		Height:      s.config.Map.Height,
		Tiles:       s.gameMap.TileCount(),
		Fingerprint: strconv.FormatUint(s.gameMap.Fingerprint(), 16),
	}
}

// BroadcastMessage sends a message to all connected players
func (s *Session) BroadcastMessage(msg *network.ServerMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		conn.SendMessage(msg)
	}
}

// BroadcastExcept sends a message to all players except the specified connection
func (s *Session) BroadcastExcept(exclude *Connection, msg *network.ServerMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, conn := range s.connections {
		if conn != exclude {
			conn.SendMessage(msg)
		}
	}
}

// GetStatus returns the current session status
func (s *Session) GetStatus() network.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := "waiting"
	if len(s.players) > 0 {
		state = "running"
	}
	return network.SessionStatus{
		State:       state,
		PlayerCount: len(s.players),
		MaxPlayers:  s.config.Session.MaxPlayers,
		UnitCount:   len(s.units),
		Uptime:      int64(time.Since(s.CreatedAt).Seconds()),
	}
}
