package geometry

// Layouts used on the rig. Positions are copied on each call.

// SquareArena returns the four-microphone arena layout in centimeters:
// a 330 x 250 cm rectangle at 30 cm height.
func SquareArena() []Point {
	return []Point{
		{X: -165, Y: -125, Z: 30},
		{X: 165, Y: -125, Z: 30},
		{X: 165, Y: 125, Z: 30},
		{X: -165, Y: 125, Z: 30},
	}
}

// TriangleRoom returns the three-microphone room layout in meters
// for a 3.5 x 6.0 x 2.65 m room.
func TriangleRoom() []Point {
	return []Point{
		{X: 1.55, Y: 5.45, Z: 1.80},
		{X: 0.25, Y: 0.05, Z: 1.80},
		{X: 3.30, Y: 0.05, Z: 1.80},
	}
}
