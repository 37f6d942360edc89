package hazards

import "math"

// cellGrid is a regular lat/lon degree grid over point indices. It is the
// accelerated query path: candidate collection touches only the cells a
// bounding box overlaps, then exact haversine filtering runs on those
// candidates, so results match the linear scan exactly.
type cellGrid struct {
	cellDeg float64
	cells   map[int64][]int
}

const defaultCellDeg = 0.01 // roughly 1.1 km of latitude per cell

func newCellGrid(points []HazardPoint, cellDeg float64) *cellGrid {
	if cellDeg <= 0 {
		cellDeg = defaultCellDeg
	}
	g := &cellGrid{cellDeg: cellDeg, cells: make(map[int64][]int)}
	for i, p := range points {
		key := g.key(p.Latitude, p.Longitude)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

func (g *cellGrid) key(lat, lon float64) int64 {
	row := int64(math.Floor(lat / g.cellDeg))
	col := int64(math.Floor(lon / g.cellDeg))
	// Degree coordinates keep row/col well inside 32 bits.
	return row<<32 | (col & 0xffffffff)
}

// candidates returns the indices of every point stored in cells overlapping
// the bounding box, in ascending index order within each cell.
func (g *cellGrid) candidates(latMin, latMax, lonMin, lonMax float64) []int {
	rowMin := int64(math.Floor(latMin / g.cellDeg))
	rowMax := int64(math.Floor(latMax / g.cellDeg))
	colMin := int64(math.Floor(lonMin / g.cellDeg))
	colMax := int64(math.Floor(lonMax / g.cellDeg))

	var out []int
	for row := rowMin; row <= rowMax; row++ {
		for col := colMin; col <= colMax; col++ {
			out = append(out, g.cells[row<<32|(col&0xffffffff)]...)
		}
	}
	return out
}
