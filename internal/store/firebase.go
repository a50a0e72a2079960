package store

import (
	"context"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"binroute/internal/model"
)

// Realtime Database layout shared with the telemetry and prediction jobs.
const (
	fbBinsPath        = "bins"
	fbPredictionsPath = "predictions"
	fbRoutesPath      = "routes"
)

type fbBin struct {
	FillLevel float64  `json:"fill_level"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Timestamp int64    `json:"timestamp"`
}

type fbPrediction struct {
	FillLevel   float64  `json:"fill_level"`
	FillRate    float64  `json:"fill_rate"`
	TimeToFullH *float64 `json:"time_to_full_h"`
	PredictedAt int64    `json:"predicted_at"`
}

// realtime is the slice of the Realtime Database client the store uses.
type realtime interface {
	Get(ctx context.Context, path string, v any) error
	Set(ctx context.Context, path string, v any) error
}

type rtdbClient struct{ c *db.Client }

func (r rtdbClient) Get(ctx context.Context, path string, v any) error {
	return r.c.NewRef(path).Get(ctx, v)
}

func (r rtdbClient) Set(ctx context.Context, path string, v any) error {
	return r.c.NewRef(path).Set(ctx, v)
}

// Firebase reads bins and predictions from a Realtime Database and writes
// routes under /routes/{id}.
type Firebase struct {
	rt realtime
}

// NewFirebase connects to databaseURL. An empty credentialsFile falls back to
// application default credentials.
func NewFirebase(ctx context.Context, databaseURL, credentialsFile string) (*Firebase, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "initialize firebase app")
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get realtime database client")
	}
	return &Firebase{rt: rtdbClient{c: client}}, nil
}

func (f *Firebase) Name() string { return "firebase" }

func (f *Firebase) ListCandidates(ctx context.Context) ([]model.BinCandidate, error) {
	var rawBins map[string]fbBin
	if err := f.rt.Get(ctx, fbBinsPath, &rawBins); err != nil {
		return nil, errors.Wrap(err, "read bins")
	}
	var rawPreds map[string]fbPrediction
	if err := f.rt.Get(ctx, fbPredictionsPath, &rawPreds); err != nil {
		return nil, errors.Wrap(err, "read predictions")
	}
	bins := make([]model.Bin, 0, len(rawBins))
	for id, b := range rawBins {
		bin := model.Bin{ID: id, FillLevel: b.FillLevel}
		if b.Latitude != nil && b.Longitude != nil {
			bin.Location = &model.Coordinate{Lat: *b.Latitude, Lng: *b.Longitude}
		}
		if b.Timestamp > 0 {
			bin.UpdatedAt = time.Unix(b.Timestamp, 0).UTC()
		}
		bins = append(bins, bin)
	}
	preds := make([]model.Prediction, 0, len(rawPreds))
	for id, p := range rawPreds {
		pred := model.Prediction{BinID: id, FillLevel: p.FillLevel, FillRate: p.FillRate, HoursToFull: p.TimeToFullH}
		if p.PredictedAt > 0 {
			pred.PredictedAt = time.Unix(p.PredictedAt, 0).UTC()
		}
		preds = append(preds, pred)
	}
	return model.JoinCandidates(bins, preds), nil
}

func (f *Firebase) SaveRoute(ctx context.Context, routeID string, r model.Route) error {
	if err := f.rt.Set(ctx, fbRoutesPath+"/"+routeID, r.Doc()); err != nil {
		return errors.Wrapf(err, "write route %s", routeID)
	}
	return nil
}

func (f *Firebase) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	var doc *model.RouteDoc
	if err := f.rt.Get(ctx, fbRoutesPath+"/"+routeID, &doc); err != nil {
		return model.Route{}, errors.Wrapf(err, "read route %s", routeID)
	}
	if doc == nil {
		return model.Route{}, ErrNotFound
	}
	return model.RouteFromDoc(*doc), nil
}

// Seed writes fixture bins and predictions in the database layout.
func (f *Firebase) Seed(ctx context.Context, fx Fixture) error {
	for _, b := range fx.Bins {
		v := fbBin{FillLevel: b.FillLevel, Timestamp: unixOrZero(b.UpdatedAt)}
		if b.Location != nil {
			lat, lng := b.Location.Lat, b.Location.Lng
			v.Latitude, v.Longitude = &lat, &lng
		}
		if err := f.rt.Set(ctx, fbBinsPath+"/"+b.ID, v); err != nil {
			return errors.Wrapf(err, "seed bin %s", b.ID)
		}
	}
	for _, p := range fx.Predictions {
		v := fbPrediction{FillLevel: p.FillLevel, FillRate: p.FillRate, TimeToFullH: p.HoursToFull, PredictedAt: unixOrZero(p.PredictedAt)}
		if err := f.rt.Set(ctx, fbPredictionsPath+"/"+p.BinID, v); err != nil {
			return errors.Wrapf(err, "seed prediction %s", p.BinID)
		}
	}
	return nil
}
