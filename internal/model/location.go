package model

import "math"

// Point is a WGS-84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the point lies within the latitude/longitude domain.
func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lon)
}

// ValidCoordinates reports whether lat ∈ [-90,90] and lon ∈ [-180,180].
// NaN and infinities are rejected.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// ReferenceLocation is one row of the district coordinate table.
type ReferenceLocation struct {
	State     string  `json:"state" yaml:"state"`
	District  string  `json:"district" yaml:"district"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// Point returns the location's coordinate.
func (l ReferenceLocation) Point() Point {
	return Point{Lat: l.Latitude, Lon: l.Longitude}
}

// ProximityMatch is a reference location ranked by its distance from a query point.
type ProximityMatch struct {
	State      string  `json:"state" yaml:"state"`
	District   string  `json:"district" yaml:"district"`
	DistanceKM float64 `json:"distance_km" yaml:"distance_km"`
}
