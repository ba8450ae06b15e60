package lightcycles

// assignSpawn places the i-th cycle at one of four arena edges, facing
// inward, giving up to four players well-separated starting trajectories.
// Index 4+ wraps around the same four points (arenas are not expected to
// host more than a handful of cycles).
func assignSpawn(i int, arenaSize float64) (Coord, Coord) {
	inset := arenaSize * 0.4

	switch i % 4 {
	case 0:
		return Coord{X: -inset, Z: 0}, Coord{X: 1, Z: 0}
	case 1:
		return Coord{X: inset, Z: 0}, Coord{X: -1, Z: 0}
	case 2:
		return Coord{X: 0, Z: -inset}, Coord{X: 0, Z: 1}
	default:
		return Coord{X: 0, Z: inset}, Coord{X: 0, Z: -1}
	}
}

// legacyDirectionVector maps the source's legacy absolute-direction strings
// to a unit direction vector.
func legacyDirectionVector(dir string) (Coord, bool) {
	switch dir {
	case "UP":
		return Coord{X: 0, Z: -1}, true
	case "DOWN":
		return Coord{X: 0, Z: 1}, true
	case "LEFT":
		return Coord{X: -1, Z: 0}, true
	case "RIGHT":
		return Coord{X: 1, Z: 0}, true
	default:
		return Coord{}, false
	}
}
