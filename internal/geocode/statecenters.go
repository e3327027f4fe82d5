package geocode

import (
	"strings"

	"github.com/couchcryptid/av-incident-etl/internal/domain"
)

// conusCenter is the geographic center of the contiguous United States, used
// when a record's state is missing or unrecognized.
var conusCenter = domain.Point{Lat: 39.8283, Lon: -98.5795}

// stateCenters holds approximate centers for the 50 states, DC and Puerto Rico.
var stateCenters = map[string]domain.Point{
	"AL": {Lat: 32.806671, Lon: -86.791130},
	"AK": {Lat: 61.370716, Lon: -152.404419},
	"AZ": {Lat: 33.729759, Lon: -111.431221},
	"AR": {Lat: 34.969704, Lon: -92.373123},
	"CA": {Lat: 36.116203, Lon: -119.681564},
	"CO": {Lat: 39.059811, Lon: -105.311104},
	"CT": {Lat: 41.597782, Lon: -72.755371},
	"DE": {Lat: 39.318523, Lon: -75.507141},
	"DC": {Lat: 38.897438, Lon: -77.026817},
	"FL": {Lat: 27.766279, Lon: -81.686783},
	"GA": {Lat: 33.040619, Lon: -83.643074},
	"HI": {Lat: 21.094318, Lon: -157.498337},
	"ID": {Lat: 44.240459, Lon: -114.478828},
	"IL": {Lat: 40.349457, Lon: -88.986137},
	"IN": {Lat: 39.849426, Lon: -86.258278},
	"IA": {Lat: 42.011539, Lon: -93.210526},
	"KS": {Lat: 38.526600, Lon: -96.726486},
	"KY": {Lat: 37.668140, Lon: -84.670067},
	"LA": {Lat: 31.169546, Lon: -91.867805},
	"ME": {Lat: 44.693947, Lon: -69.381927},
	"MD": {Lat: 39.063946, Lon: -76.802101},
	"MA": {Lat: 42.230171, Lon: -71.530106},
	"MI": {Lat: 43.326618, Lon: -84.536095},
	"MN": {Lat: 45.694454, Lon: -93.900192},
	"MS": {Lat: 32.741646, Lon: -89.678696},
	"MO": {Lat: 38.456085, Lon: -92.288368},
	"MT": {Lat: 46.921925, Lon: -110.454353},
	"NE": {Lat: 41.125370, Lon: -98.268082},
	"NV": {Lat: 38.313515, Lon: -117.055374},
	"NH": {Lat: 43.452492, Lon: -71.563896},
	"NJ": {Lat: 40.298904, Lon: -74.521011},
	"NM": {Lat: 34.840515, Lon: -106.248482},
	"NY": {Lat: 42.165726, Lon: -74.948051},
	"NC": {Lat: 35.630066, Lon: -79.806419},
	"ND": {Lat: 47.528912, Lon: -99.784012},
	"OH": {Lat: 40.388783, Lon: -82.764915},
	"OK": {Lat: 35.565342, Lon: -96.928917},
	"OR": {Lat: 44.572021, Lon: -122.070938},
	"PA": {Lat: 40.590752, Lon: -77.209755},
	"RI": {Lat: 41.680893, Lon: -71.511780},
	"SC": {Lat: 33.856892, Lon: -80.945007},
	"SD": {Lat: 44.299782, Lon: -99.438828},
	"TN": {Lat: 35.747845, Lon: -86.692345},
	"TX": {Lat: 31.054487, Lon: -97.563461},
	"UT": {Lat: 40.150032, Lon: -111.862434},
	"VT": {Lat: 44.045876, Lon: -72.710686},
	"VA": {Lat: 37.769337, Lon: -78.169968},
	"WA": {Lat: 47.400902, Lon: -121.490494},
	"WV": {Lat: 38.491226, Lon: -80.954453},
	"WI": {Lat: 44.268543, Lon: -89.616508},
	"WY": {Lat: 42.755966, Lon: -107.302490},
	"PR": {Lat: 18.220833, Lon: -66.590149},
}

// StateCenter returns the static center of a two-letter state code.
func StateCenter(state string) (domain.Point, bool) {
	p, ok := stateCenters[strings.ToUpper(strings.TrimSpace(state))]
	return p, ok
}
