package model

import (
	"math"
	"sort"
	"time"
)

// Coordinate is a WGS84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether c is a finite, in-range position.
func (c Coordinate) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// BinCandidate is one receptacle considered for collection in a run.
// A nil Location means the location store has no record for the bin;
// a nil HoursToFull means no usable prediction exists.
type BinCandidate struct {
	ID          string
	Location    *Coordinate
	FillLevel   float64
	HoursToFull *float64
}

// Bin is the latest telemetry record for a receptacle.
type Bin struct {
	ID        string      `json:"id" yaml:"id"`
	Location  *Coordinate `json:"location,omitempty" yaml:"location,omitempty"`
	FillLevel float64     `json:"fillLevel" yaml:"fillLevel"`
	UpdatedAt time.Time   `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Prediction is the predictor's output for a receptacle.
type Prediction struct {
	BinID       string    `json:"binId" yaml:"binId"`
	FillLevel   float64   `json:"fillLevel" yaml:"fillLevel"`
	FillRate    float64   `json:"fillRate,omitempty" yaml:"fillRate,omitempty"`
	HoursToFull *float64  `json:"hoursToFull,omitempty" yaml:"hoursToFull,omitempty"`
	PredictedAt time.Time `json:"predictedAt,omitempty" yaml:"predictedAt,omitempty"`
}

// JoinCandidates merges bin records and predictions into candidates, sorted by id.
// A bin without a prediction keeps its own fill level and an unknown
// time-to-full. A prediction without a bin record yields a candidate with no
// location, which the matrix stage excludes.
func JoinCandidates(bins []Bin, preds []Prediction) []BinCandidate {
	byID := map[string]*BinCandidate{}
	for _, b := range bins {
		if _, ok := byID[b.ID]; ok {
			continue
		}
		c := &BinCandidate{ID: b.ID, FillLevel: b.FillLevel}
		if b.Location != nil {
			loc := *b.Location
			c.Location = &loc
		}
		byID[b.ID] = c
	}
	seen := map[string]bool{}
	for _, p := range preds {
		if seen[p.BinID] {
			continue
		}
		seen[p.BinID] = true
		c, ok := byID[p.BinID]
		if !ok {
			c = &BinCandidate{ID: p.BinID}
			byID[p.BinID] = c
		}
		c.FillLevel = p.FillLevel
		if p.HoursToFull != nil {
			h := *p.HoursToFull
			c.HoursToFull = &h
		}
	}
	out := make([]BinCandidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type StopKind string

const (
	StopDepot StopKind = "depot"
	StopBin   StopKind = "bin"
)

// DepotBinID is the bin_id the persisted document uses for depot stops.
const DepotBinID = "DEPOT"

// Stop is one visit of a route, in visiting order.
type Stop struct {
	Order                  int
	Kind                   StopKind
	BinID                  string
	Location               Coordinate
	DistanceFromPreviousKm *float64
	FillLevel              *float64
	HoursToFull            *float64
}

// Route is the published result of an optimization run.
type Route struct {
	Stops           []Stop
	TotalDistanceKm float64
	StopCount       int
	CreatedAt       time.Time
}

// RouteDoc is the persisted route document.
type RouteDoc struct {
	Stops           []StopDoc `json:"stops"`
	TotalDistanceKm float64   `json:"total_distance_km"`
	TotalBins       int       `json:"total_bins"`
	CreatedAt       int64     `json:"created_at"`
}

type StopDoc struct {
	Order                  int      `json:"order"`
	Type                   string   `json:"type"`
	BinID                  string   `json:"bin_id,omitempty"`
	Latitude               float64  `json:"latitude"`
	Longitude              float64  `json:"longitude"`
	FillLevel              *float64 `json:"fill_level,omitempty"`
	TimeToFullH            *float64 `json:"time_to_full_h,omitempty"`
	DistanceFromPreviousKm *float64 `json:"distance_from_previous_km,omitempty"`
}

// Doc converts r to its persisted form. Distances are rounded to 2 decimals.
func (r Route) Doc() RouteDoc {
	doc := RouteDoc{
		Stops:           make([]StopDoc, 0, len(r.Stops)),
		TotalDistanceKm: round2(r.TotalDistanceKm),
		TotalBins:       r.StopCount,
		CreatedAt:       r.CreatedAt.Unix(),
	}
	for _, s := range r.Stops {
		sd := StopDoc{
			Order:       s.Order,
			Type:        string(s.Kind),
			BinID:       s.BinID,
			Latitude:    s.Location.Lat,
			Longitude:   s.Location.Lng,
			FillLevel:   s.FillLevel,
			TimeToFullH: s.HoursToFull,
		}
		if s.Kind == StopDepot {
			sd.BinID = DepotBinID
		}
		if s.DistanceFromPreviousKm != nil {
			d := round2(*s.DistanceFromPreviousKm)
			sd.DistanceFromPreviousKm = &d
		}
		doc.Stops = append(doc.Stops, sd)
	}
	return doc
}

// RouteFromDoc rebuilds a Route from its persisted form.
func RouteFromDoc(doc RouteDoc) Route {
	r := Route{
		Stops:           make([]Stop, 0, len(doc.Stops)),
		TotalDistanceKm: doc.TotalDistanceKm,
		StopCount:       doc.TotalBins,
		CreatedAt:       time.Unix(doc.CreatedAt, 0).UTC(),
	}
	for _, sd := range doc.Stops {
		s := Stop{
			Order:                  sd.Order,
			Kind:                   StopKind(sd.Type),
			BinID:                  sd.BinID,
			Location:               Coordinate{Lat: sd.Latitude, Lng: sd.Longitude},
			DistanceFromPreviousKm: sd.DistanceFromPreviousKm,
			FillLevel:              sd.FillLevel,
			HoursToFull:            sd.TimeToFullH,
		}
		if s.Kind == StopDepot {
			s.BinID = ""
		}
		r.Stops = append(r.Stops, s)
	}
	return r
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
