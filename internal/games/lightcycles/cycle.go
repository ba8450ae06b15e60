package lightcycles

// CycleState is one player's light-cycle: its kinematic state plus the
// destination history needed to replay movement deterministically.
type CycleState struct {
	PlayerID string

	Position  Coord
	Direction Coord
	Distance  float64 // odometer: total path length since spawn
	Speed     float64
	Alive     bool

	SpawnPosition Coord
	SpawnTime     float64
	LastTurnTime  float64

	Destinations []Destination
	seenMessages map[uint64]struct{} // messageId -> present, for idempotent replay

	Wall *PlayerWall
}

// newCycle spawns a fresh cycle at the given position/direction, with a
// LastTurnTime set far enough in the past that the very first turn is never
// rejected by the turnDelay check.
func newCycle(playerID string, spawn, direction Coord, speed, gameTime float64) *CycleState {
	c := &CycleState{
		PlayerID:      playerID,
		Position:      spawn,
		Direction:     direction,
		Speed:         speed,
		Alive:         true,
		SpawnPosition: spawn,
		SpawnTime:     gameTime,
		LastTurnTime:  gameTime - 1_000_000,
		seenMessages:  make(map[uint64]struct{}),
	}
	c.Wall = &PlayerWall{Current: WallSegment{
		Start:       spawn,
		End:         spawn,
		OwnerID:     playerID,
		IsDangerous: true,
	}}
	return c
}

// reset returns the cycle to its spawn state for the next round, keeping
// its identity and speed but clearing movement history.
func (c *CycleState) reset(spawn, direction Coord, gameTime float64) {
	c.Position = spawn
	c.Direction = direction
	c.Distance = 0
	c.Alive = true
	c.SpawnPosition = spawn
	c.SpawnTime = gameTime
	c.LastTurnTime = gameTime - 1_000_000
	c.Destinations = nil
	c.seenMessages = make(map[uint64]struct{})
	c.Wall = &PlayerWall{Current: WallSegment{
		Start:       spawn,
		End:         spawn,
		OwnerID:     c.PlayerID,
		IsDangerous: true,
	}}
}

// insertSorted inserts d into the cycle's destination list in order by
// (distance, gameTime, messageId), unless a destination with the same
// (messageId, playerId) is already present (law 8's idempotence half).
// Returns true if the destination was newly inserted.
func (c *CycleState) insertSorted(d Destination) bool {
	if _, seen := c.seenMessages[d.MessageID]; seen {
		return false
	}

	idx := len(c.Destinations)
	for i, existing := range c.Destinations {
		if less(d, existing) {
			idx = i
			break
		}
	}

	c.Destinations = append(c.Destinations, Destination{})
	copy(c.Destinations[idx+1:], c.Destinations[idx:])
	c.Destinations[idx] = d
	c.seenMessages[d.MessageID] = struct{}{}
	return true
}

func less(a, b Destination) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.GameTime != b.GameTime {
		return a.GameTime < b.GameTime
	}
	return a.MessageID < b.MessageID
}

// closeWallAt closes the cycle's open wall segment at pos and opens a new
// one starting there, used on turns, wraps, and round resets.
func (c *CycleState) closeWallAt(pos Coord, distance, gameTime float64) {
	c.Wall.Current.End = pos
	c.Wall.Current.DistanceEnd = distance
	c.Wall.Current.TimeEnd = gameTime
	c.Wall.Segments = append(c.Wall.Segments, c.Wall.Current)

	c.Wall.Current = WallSegment{
		Start:         pos,
		End:           pos,
		DistanceStart: distance,
		TimeStart:     gameTime,
		OwnerID:       c.PlayerID,
		IsDangerous:   true,
	}
}

// extendWallTo advances the open wall segment's end without closing it,
// called once per normal (non-turn, non-wrap, non-eliminating) tick.
func (c *CycleState) extendWallTo(pos Coord, distance, gameTime float64) {
	c.Wall.Current.End = pos
	c.Wall.Current.DistanceEnd = distance
	c.Wall.Current.TimeEnd = gameTime
}
