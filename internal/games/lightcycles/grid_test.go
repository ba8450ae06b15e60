package lightcycles

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaimDoesNotOverwriteExistingOwner(t *testing.T) {
	g := NewCollisionGrid(1)
	g.Claim(Coord{X: 5, Z: 5}, "p1")
	g.Claim(Coord{X: 5, Z: 5}, "p2")

	owner, ok := g.OwnerAt(Coord{X: 5, Z: 5})
	require.True(t, ok)
	require.Equal(t, "p1", owner)
}

func TestRasterizeLineVisitsEveryCellAlongPath(t *testing.T) {
	g := NewCollisionGrid(1)
	var visited []Coord
	g.rasterizeLine(Coord{X: 0, Z: 0}, Coord{X: 4, Z: 0}, func(pos Coord) bool {
		visited = append(visited, pos)
		return false
	})
	require.Len(t, visited, 5) // cells 0..4 inclusive
}

func TestRasterizeLineStopsEarlyWhenVisitReturnsTrue(t *testing.T) {
	g := NewCollisionGrid(1)
	count := 0
	g.rasterizeLine(Coord{X: 0, Z: 0}, Coord{X: 10, Z: 0}, func(pos Coord) bool {
		count++
		return count == 2
	})
	require.Equal(t, 2, count)
}

func TestResetClearsAllCells(t *testing.T) {
	g := NewCollisionGrid(1)
	g.Claim(Coord{X: 1, Z: 1}, "p1")
	g.Reset()
	_, ok := g.OwnerAt(Coord{X: 1, Z: 1})
	require.False(t, ok)
}
