package api

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"binroute/internal/model"
)

// RouteFeatures renders a route as one LineString in visiting order plus a
// Point per stop. Coordinates are [lng, lat].
func RouteFeatures(rt model.Route) *geojson.FeatureCollection {
	doc := rt.Doc()
	fc := geojson.NewFeatureCollection()
	if len(doc.Stops) >= 2 {
		line := make(orb.LineString, 0, len(doc.Stops))
		for _, st := range doc.Stops {
			line = append(line, orb.Point{st.Longitude, st.Latitude})
		}
		f := geojson.NewFeature(line)
		f.Properties["kind"] = "route"
		f.Properties["total_distance_km"] = doc.TotalDistanceKm
		f.Properties["total_bins"] = doc.TotalBins
		f.Properties["created_at"] = doc.CreatedAt
		fc.Append(f)
	}
	for _, st := range doc.Stops {
		f := geojson.NewFeature(orb.Point{st.Longitude, st.Latitude})
		f.Properties["kind"] = "stop"
		f.Properties["order"] = st.Order
		f.Properties["type"] = st.Type
		f.Properties["bin_id"] = st.BinID
		if st.FillLevel != nil {
			f.Properties["fill_level"] = *st.FillLevel
		}
		if st.TimeToFullH != nil {
			f.Properties["time_to_full_h"] = *st.TimeToFullH
		}
		if st.DistanceFromPreviousKm != nil {
			f.Properties["distance_from_previous_km"] = *st.DistanceFromPreviousKm
		}
		fc.Append(f)
	}
	return fc
}
