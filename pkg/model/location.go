package model

import "math"

const earthRadiusMetres = 6371000

// Location is a GeoJSON point, coordinates ordered longitude then latitude.
type Location struct {
	Type        string    `json:"-" groups:"basic" bson:"type"`
	Coordinates []float64 `json:"coordinates" groups:"basic" bson:"coordinates"`
}

func NewPoint(longitude float64, latitude float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{longitude, latitude},
	}
}

func (l *Location) Longitude() float64 {
	return l.Coordinates[0]
}

func (l *Location) Latitude() float64 {
	return l.Coordinates[1]
}

// Distance returns the great-circle distance to the other location in metres
func (l *Location) Distance(other *Location) float64 {
	lat1 := l.Coordinates[1] * math.Pi / 180
	lat2 := other.Coordinates[1] * math.Pi / 180
	deltaLat := (other.Coordinates[1] - l.Coordinates[1]) * math.Pi / 180
	deltaLon := (other.Coordinates[0] - l.Coordinates[0]) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMetres * c
}

// DistanceFromLine returns the distance in coordinate space between this point
// and the line segment a-b
// Shameless taken 'inspiration' from https://stackoverflow.com/a/6853926
func (l *Location) DistanceFromLine(a Location, b Location) float64 {
	A := l.Coordinates[0] - a.Coordinates[0]
	B := l.Coordinates[1] - a.Coordinates[1]
	C := b.Coordinates[0] - a.Coordinates[0]
	D := b.Coordinates[1] - a.Coordinates[1]

	dot := A*C + B*D
	lenSq := C*C + D*D

	param := -1.0
	if lenSq != 0 {
		param = dot / lenSq
	}

	var xx, yy float64

	if param < 0 {
		xx = a.Coordinates[0]
		yy = a.Coordinates[1]
	} else if param > 1 {
		xx = b.Coordinates[0]
		yy = b.Coordinates[1]
	} else {
		xx = a.Coordinates[0] + param*C
		yy = a.Coordinates[1] + param*D
	}

	dx := l.Coordinates[0] - xx
	dy := l.Coordinates[1] - yy
	return math.Sqrt(dx*dx + dy*dy)
}

// BoundingBox is a rectangle in longitude/latitude space
type BoundingBox struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

func (b BoundingBox) Contains(l *Location) bool {
	return l.Coordinates[0] >= b.MinLon && l.Coordinates[0] <= b.MaxLon &&
		l.Coordinates[1] >= b.MinLat && l.Coordinates[1] <= b.MaxLat
}

func (b BoundingBox) Centre() Location {
	return NewPoint((b.MinLon+b.MaxLon)/2, (b.MinLat+b.MaxLat)/2)
}

// WidthMetres returns the east-west extent measured along the box's centre latitude
func (b BoundingBox) WidthMetres() float64 {
	midLat := (b.MinLat + b.MaxLat) / 2
	west := NewPoint(b.MinLon, midLat)
	east := NewPoint(b.MaxLon, midLat)
	return west.Distance(&east)
}

func (b BoundingBox) HeightMetres() float64 {
	south := NewPoint(b.MinLon, b.MinLat)
	north := NewPoint(b.MinLon, b.MaxLat)
	return south.Distance(&north)
}
