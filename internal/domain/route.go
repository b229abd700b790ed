package domain

// LatLng is a geographic point in decimal degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// RouteSegment is one leg of a planned route. Start and End are the declared
// segment endpoints; Path is the ordered detailed polyline between them and
// may be empty for straight legs.
type RouteSegment struct {
	Start LatLng
	End   LatLng
	Path  []LatLng
}

// PlannedRoute is the path a trip is expected to follow. It is immutable for
// the lifetime of the trip.
type PlannedRoute struct {
	TripID   string
	Segments []RouteSegment
}

// TripContext is the human-facing metadata attached to staff notifications so
// an alert can be acted on without a second lookup.
type TripContext struct {
	TripID       string
	DriverName   string
	DriverPhone  string
	VehiclePlate string
	OrderSummary string
}
