package simulation

// Waypoint is a named coordinate on a simulated route.
type Waypoint struct {
	Name string  `json:"name,omitempty"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

var (
	// DeliveryPoint is the expected delivery location registered for geoMismatch.
	DeliveryPoint = Waypoint{Name: "Pune", Lat: 18.5204, Lon: 73.8567}
	// MismatchPoint is where the device actually reports from in geoMismatch.
	MismatchPoint = Waypoint{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777}
)

var routes = map[Mode][]Waypoint{
	// Walking pace around a single block.
	ModeNormal: {
		{Name: "Shivajinagar Start", Lat: 18.5204, Lon: 73.8567},
		{Name: "Point 2", Lat: 18.52045, Lon: 73.8568},
		{Name: "Point 3", Lat: 18.5205, Lon: 73.8569},
		{Name: "Point 4", Lat: 18.52055, Lon: 73.8570},
		{Name: "Point 5", Lat: 18.5206, Lon: 73.8571},
		{Name: "Point 6", Lat: 18.52065, Lon: 73.8572},
		{Name: "Point 7", Lat: 18.5207, Lon: 73.8573},
		{Name: "Point 8", Lat: 18.52075, Lon: 73.8574},
		{Name: "Point 9", Lat: 18.5208, Lon: 73.8575},
		{Name: "Point 10", Lat: 18.52085, Lon: 73.8576},
	},
	// Kilometre jumps between pings.
	ModeFast: {
		{Name: "Pune Start", Lat: 18.5204, Lon: 73.8567},
		{Name: "Jump 1", Lat: 18.5304, Lon: 73.8667},
		{Name: "Jump 2", Lat: 18.5404, Lon: 73.8767},
		{Name: "Jump 3", Lat: 18.5504, Lon: 73.8867},
		{Name: "Jump 4", Lat: 18.5604, Lon: 73.8967},
		{Name: "Far Away", Lat: 18.6204, Lon: 73.9567},
	},
	// City to city.
	ModeTeleport: {
		{Name: "Pune", Lat: 18.5204, Lon: 73.8567},
		{Name: "Mumbai", Lat: 19.0760, Lon: 72.8777},
		{Name: "Delhi", Lat: 28.7041, Lon: 77.1025},
		{Name: "Bangalore", Lat: 12.9716, Lon: 77.5946},
		{Name: "Kolkata", Lat: 22.5726, Lon: 88.3639},
		{Name: "Chennai", Lat: 13.0827, Lon: 80.2707},
	},
	ModeGeoMismatch: {MismatchPoint},
}

// Route returns a copy of the fixed route for mode.
func Route(mode Mode) []Waypoint {
	r := routes[mode]
	out := make([]Waypoint, len(r))
	copy(out, r)
	return out
}
