package csvfeed

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"binroute/internal/model"
	"binroute/internal/store"
)

// Adapter reads a bins CSV export and an optional predictions CSV export.
//
// bins:        id,latitude,longitude,fill_level[,timestamp]
// predictions: bin_id,fill_level[,fill_rate,time_to_full_h,predicted_at]
//
// Columns are matched by header name. Empty coordinates leave the bin without
// a location; an empty time_to_full_h leaves the hours unknown. Timestamps are
// unix seconds or RFC3339.
type Adapter struct {
	BinsPath        string
	PredictionsPath string
}

func (a Adapter) Name() string { return "csv" }

func (a Adapter) Fetch(ctx context.Context) (store.Fixture, error) {
	var f store.Fixture
	if a.BinsPath != "" {
		rows, err := readFile(a.BinsPath)
		if err != nil {
			return f, err
		}
		if f.Bins, err = ParseBins(rows); err != nil {
			return f, errors.Wrap(err, a.BinsPath)
		}
	}
	if err := ctx.Err(); err != nil {
		return f, err
	}
	if a.PredictionsPath != "" {
		rows, err := readFile(a.PredictionsPath)
		if err != nil {
			return f, err
		}
		if f.Predictions, err = ParsePredictions(rows); err != nil {
			return f, errors.Wrap(err, a.PredictionsPath)
		}
	}
	return f, nil
}

func readFile(path string) ([]map[string]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open csv")
	}
	defer fh.Close()
	return ReadRows(fh)
}

// ReadRows decodes CSV with a header line into one map per record.
func ReadRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}
	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read csv")
		}
		row := make(map[string]string, len(header))
		for i, v := range rec {
			if i < len(header) {
				row[header[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, row)
	}
}

func ParseBins(rows []map[string]string) ([]model.Bin, error) {
	out := make([]model.Bin, 0, len(rows))
	for i, row := range rows {
		b := model.Bin{ID: row["id"]}
		if b.ID == "" {
			return nil, errors.Errorf("row %d: missing id", i+1)
		}
		fill, err := number(row, "fill_level")
		if err != nil {
			return nil, errors.Wrapf(err, "bin %s", b.ID)
		}
		b.FillLevel = fill
		if row["latitude"] != "" || row["longitude"] != "" {
			lat, err := number(row, "latitude")
			if err != nil {
				return nil, errors.Wrapf(err, "bin %s", b.ID)
			}
			lng, err := number(row, "longitude")
			if err != nil {
				return nil, errors.Wrapf(err, "bin %s", b.ID)
			}
			b.Location = &model.Coordinate{Lat: lat, Lng: lng}
		}
		if b.UpdatedAt, err = timestamp(row["timestamp"]); err != nil {
			return nil, errors.Wrapf(err, "bin %s", b.ID)
		}
		out = append(out, b)
	}
	return out, nil
}

func ParsePredictions(rows []map[string]string) ([]model.Prediction, error) {
	out := make([]model.Prediction, 0, len(rows))
	for i, row := range rows {
		p := model.Prediction{BinID: row["bin_id"]}
		if p.BinID == "" {
			return nil, errors.Errorf("row %d: missing bin_id", i+1)
		}
		var err error
		if p.FillLevel, err = number(row, "fill_level"); err != nil {
			return nil, errors.Wrapf(err, "prediction %s", p.BinID)
		}
		if row["fill_rate"] != "" {
			if p.FillRate, err = number(row, "fill_rate"); err != nil {
				return nil, errors.Wrapf(err, "prediction %s", p.BinID)
			}
		}
		if row["time_to_full_h"] != "" {
			h, err := number(row, "time_to_full_h")
			if err != nil {
				return nil, errors.Wrapf(err, "prediction %s", p.BinID)
			}
			p.HoursToFull = &h
		}
		if p.PredictedAt, err = timestamp(row["predicted_at"]); err != nil {
			return nil, errors.Wrapf(err, "prediction %s", p.BinID)
		}
		out = append(out, p)
	}
	return out, nil
}

func number(row map[string]string, col string) (float64, error) {
	v, ok := row[col]
	if !ok || v == "" {
		return 0, errors.Errorf("missing %s", col)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", col)
	}
	return f, nil
}

func timestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.Errorf("timestamp %q is neither unix seconds nor RFC3339", v)
	}
	return t, nil
}
