// Package layout computes the tile geometry for the composite video output.
package layout

// Grid returns the columns and rows used to tile n streams.
// We don't support more than 16 streams for now; beyond that the grid
// stays 4x4 and extra tiles wrap around, overlapping earlier ones.
func Grid(n int) (cols, rows int) {
	switch {
	case n <= 1:
		return 1, 1
	case n <= 4:
		return 2, 2
	default:
		return 4, 4
	}
}

// Tile is one cell of the composite canvas.
type Tile struct {
	X, Y, W, H int
}

// Tiles assigns row-major positions for n streams over a width x height
// canvas. Always returns exactly n tiles.
func Tiles(n, width, height int) []Tile {
	if n <= 0 {
		return nil
	}
	cols, rows := Grid(n)
	w := width / cols
	h := height / rows

	tiles := make([]Tile, 0, n)
	x, y := 0, 0
	for i := 0; i < n; i++ {
		tiles = append(tiles, Tile{X: x, Y: y, W: w, H: h})
		x += w
		if x >= width {
			x = 0
			y += h
			if y >= height {
				y = 0
			}
		}
	}
	return tiles
}
