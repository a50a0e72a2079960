package opt

import (
	"errors"
	"fmt"
	"time"

	"binroute/internal/model"
)

// ErrInvalidTour is returned when a tour does not match the stop list.
var ErrInvalidTour = errors.New("invalid tour")

// FormatRoute maps tour indices onto depot and bin stops. Index 0 is the
// depot; index i > 0 is stops[i-1]. Every stop after the first carries the
// haversine distance from its predecessor, and the total is their sum.
func FormatRoute(t Tour, depot model.Coordinate, stops []model.BinCandidate, createdAt time.Time) (model.Route, error) {
	if err := CheckTour(t, len(stops)+1); err != nil {
		return model.Route{}, fmt.Errorf("%w: %v", ErrInvalidTour, err)
	}
	route := model.Route{Stops: make([]model.Stop, 0, len(t)), CreatedAt: createdAt}
	for order, idx := range t {
		var s model.Stop
		if idx == 0 {
			s = model.Stop{Order: order, Kind: model.StopDepot, Location: depot}
		} else {
			c := stops[idx-1]
			if c.Location == nil {
				return model.Route{}, fmt.Errorf("%w: bin %s has no location", ErrInvalidTour, c.ID)
			}
			fill := c.FillLevel
			s = model.Stop{
				Order:     order,
				Kind:      model.StopBin,
				BinID:     c.ID,
				Location:  *c.Location,
				FillLevel: &fill,
			}
			if c.HoursToFull != nil {
				h := *c.HoursToFull
				s.HoursToFull = &h
			}
			route.StopCount++
		}
		if order > 0 {
			d := Haversine(route.Stops[order-1].Location, s.Location)
			s.DistanceFromPreviousKm = &d
			route.TotalDistanceKm += d
		}
		route.Stops = append(route.Stops, s)
	}
	return route, nil
}
