package domain

import "time"

// PositionReport is a single live position sample for a trip. Speed and
// Bearing are optional (negative means not reported). The engine does not
// retain reports beyond the update they trigger.
type PositionReport struct {
	TripID    string
	Latitude  float64
	Longitude float64
	SpeedKmh  float64
	Bearing   float64
	Timestamp time.Time
}
