package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"binroute/internal/model"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bins (
		id TEXT PRIMARY KEY,
		lat DOUBLE PRECISION,
		lng DOUBLE PRECISION,
		fill_level DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS predictions (
		bin_id TEXT PRIMARY KEY,
		fill_level DOUBLE PRECISION NOT NULL DEFAULT 0,
		fill_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		hours_to_full DOUBLE PRECISION,
		predicted_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		total_distance_km DOUBLE PRECISION NOT NULL,
		total_bins INTEGER NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// SQL stores bins, predictions and routes in PostgreSQL or SQLite.
type SQL struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and pings a database. driver is DriverPostgres or DriverSQLite.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "verify %s connection", driver)
	}
	return &SQL{db: db, driver: driver}, nil
}

func (s *SQL) Name() string { return "sql/" + s.driver }

func (s *SQL) Close() error { return s.db.Close() }

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Migrate creates the tables if they do not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQL) rebind(q string) string {
	if s.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Seed upserts fixture bins and predictions in one transaction.
func (s *SQL) Seed(ctx context.Context, f Fixture) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin seed")
	}
	defer func() { _ = tx.Rollback() }()

	binQ := s.rebind(`INSERT INTO bins (id, lat, lng, fill_level, updated_at) VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET lat=excluded.lat, lng=excluded.lng, fill_level=excluded.fill_level, updated_at=excluded.updated_at`)
	for _, b := range f.Bins {
		var lat, lng any
		if b.Location != nil {
			lat, lng = b.Location.Lat, b.Location.Lng
		}
		if _, err := tx.ExecContext(ctx, binQ, b.ID, lat, lng, b.FillLevel, unixOrZero(b.UpdatedAt)); err != nil {
			return errors.Wrapf(err, "seed bin %s", b.ID)
		}
	}
	predQ := s.rebind(`INSERT INTO predictions (bin_id, fill_level, fill_rate, hours_to_full, predicted_at) VALUES (?,?,?,?,?)
		ON CONFLICT (bin_id) DO UPDATE SET fill_level=excluded.fill_level, fill_rate=excluded.fill_rate, hours_to_full=excluded.hours_to_full, predicted_at=excluded.predicted_at`)
	for _, p := range f.Predictions {
		var hours any
		if p.HoursToFull != nil {
			hours = *p.HoursToFull
		}
		if _, err := tx.ExecContext(ctx, predQ, p.BinID, p.FillLevel, p.FillRate, hours, unixOrZero(p.PredictedAt)); err != nil {
			return errors.Wrapf(err, "seed prediction %s", p.BinID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit seed")
}

func (s *SQL) ListCandidates(ctx context.Context) ([]model.BinCandidate, error) {
	bins, err := s.listBins(ctx)
	if err != nil {
		return nil, err
	}
	preds, err := s.listPredictions(ctx)
	if err != nil {
		return nil, err
	}
	return model.JoinCandidates(bins, preds), nil
}

func (s *SQL) listBins(ctx context.Context) ([]model.Bin, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, lat, lng, fill_level, updated_at FROM bins ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query bins")
	}
	defer rows.Close()
	var out []model.Bin
	for rows.Next() {
		var b model.Bin
		var lat, lng sql.NullFloat64
		var updated int64
		if err := rows.Scan(&b.ID, &lat, &lng, &b.FillLevel, &updated); err != nil {
			return nil, errors.Wrap(err, "scan bin")
		}
		if lat.Valid && lng.Valid {
			b.Location = &model.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
		}
		if updated > 0 {
			b.UpdatedAt = time.Unix(updated, 0).UTC()
		}
		out = append(out, b)
	}
	return out, errors.Wrap(rows.Err(), "iterate bins")
}

func (s *SQL) listPredictions(ctx context.Context) ([]model.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bin_id, fill_level, fill_rate, hours_to_full, predicted_at FROM predictions ORDER BY bin_id`)
	if err != nil {
		return nil, errors.Wrap(err, "query predictions")
	}
	defer rows.Close()
	var out []model.Prediction
	for rows.Next() {
		var p model.Prediction
		var hours sql.NullFloat64
		var at int64
		if err := rows.Scan(&p.BinID, &p.FillLevel, &p.FillRate, &hours, &at); err != nil {
			return nil, errors.Wrap(err, "scan prediction")
		}
		if hours.Valid {
			h := hours.Float64
			p.HoursToFull = &h
		}
		if at > 0 {
			p.PredictedAt = time.Unix(at, 0).UTC()
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate predictions")
}

// SaveRoute upserts the route document; the previous one is replaced whole.
func (s *SQL) SaveRoute(ctx context.Context, routeID string, r model.Route) error {
	doc := r.Doc()
	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode route")
	}
	q := s.rebind(`INSERT INTO routes (id, doc, total_distance_km, total_bins, created_at) VALUES (?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET doc=excluded.doc, total_distance_km=excluded.total_distance_km, total_bins=excluded.total_bins, created_at=excluded.created_at`)
	if _, err := s.db.ExecContext(ctx, q, routeID, string(b), doc.TotalDistanceKm, doc.TotalBins, doc.CreatedAt); err != nil {
		return errors.Wrapf(err, "save route %s", routeID)
	}
	return nil
}

func (s *SQL) GetRoute(ctx context.Context, routeID string) (model.Route, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT doc FROM routes WHERE id=?`), routeID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, ErrNotFound
	}
	if err != nil {
		return model.Route{}, errors.Wrapf(err, "load route %s", routeID)
	}
	var doc model.RouteDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return model.Route{}, errors.Wrapf(err, "decode route %s", routeID)
	}
	return model.RouteFromDoc(doc), nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
