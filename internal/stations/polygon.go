package stations

// Coarse outline of the Vienna city area, counter clockwise, as lat/lon
// pairs. Construction site coordinates only need a rough inside test, so
// a handful of vertices is enough.
var viennaOutline = [][2]float64{
	{48.3230, 16.1830},
	{48.3230, 16.4100},
	{48.2850, 16.5500},
	{48.2200, 16.5770},
	{48.1550, 16.5300},
	{48.1180, 16.4300},
	{48.1180, 16.2600},
	{48.1700, 16.1830},
}

// IsInViennaCoord reports whether a coordinate lies inside the city outline.
func IsInViennaCoord(lat, lon float64) bool {
	inside := false
	n := len(viennaOutline)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, xi := viennaOutline[i][0], viennaOutline[i][1]
		yj, xj := viennaOutline[j][0], viennaOutline[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
