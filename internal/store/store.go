// Package store persists inspection reports in a SQLite database so past
// runs can be listed and re-rendered.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// ErrNotFound is returned when an inspection does not exist.
var ErrNotFound = errors.New("inspection not found")

// timeLayout is how timestamps are written to the database.
const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS inspections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	video_name TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	total_wagons INTEGER DEFAULT 0,
	frames INTEGER DEFAULT 0,
	dropped INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS wagons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	inspection_id INTEGER NOT NULL,
	wagon_index INTEGER NOT NULL,
	track_id INTEGER NOT NULL,
	ocr_text TEXT,
	ocr_confidence REAL,
	identifier TEXT NOT NULL,
	wagon_type TEXT,
	authority TEXT,
	status TEXT NOT NULL,
	original_image_path TEXT,
	deblurred_image_path TEXT,
	cropped_number_path TEXT,
	defects TEXT,
	is_night BOOLEAN DEFAULT 0,
	timestamp TEXT NOT NULL,
	FOREIGN KEY (inspection_id) REFERENCES inspections (id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_wagons_inspection ON wagons (inspection_id, wagon_index);
`

// Inspection is one stored run.
type Inspection struct {
	ID          int64     `json:"id" yaml:"id"`
	RunID       string    `json:"run_id" yaml:"run_id"`
	VideoName   string    `json:"video_name" yaml:"video_name"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	TotalWagons int       `json:"total_wagons" yaml:"total_wagons"`
	Frames      int       `json:"frames" yaml:"frames"`
	Dropped     int       `json:"dropped" yaml:"dropped"`
}

// Wagon is one stored inventory line.
type Wagon struct {
	ID                 int64     `json:"id" yaml:"id"`
	InspectionID       int64     `json:"inspection_id" yaml:"inspection_id"`
	Index              int       `json:"wagon_index" yaml:"wagon_index"`
	TrackID            int       `json:"track_id" yaml:"track_id"`
	OCRText            *string   `json:"ocr_text" yaml:"ocr_text"`
	OCRConfidence      float64   `json:"ocr_confidence" yaml:"ocr_confidence"`
	Identifier         string    `json:"identifier" yaml:"identifier"`
	WagonType          string    `json:"wagon_type,omitempty" yaml:"wagon_type,omitempty"`
	Authority          string    `json:"authority,omitempty" yaml:"authority,omitempty"`
	Status             string    `json:"status" yaml:"status"`
	OriginalImagePath  string    `json:"original_image_path,omitempty" yaml:"original_image_path,omitempty"`
	DeblurredImagePath string    `json:"deblurred_image_path,omitempty" yaml:"deblurred_image_path,omitempty"`
	CroppedNumberPath  string    `json:"cropped_number_path,omitempty" yaml:"cropped_number_path,omitempty"`
	Defects            string    `json:"defects,omitempty" yaml:"defects,omitempty"`
	IsNight            bool      `json:"is_night" yaml:"is_night"`
	Timestamp          time.Time `json:"timestamp" yaml:"timestamp"`
}

// Stats aggregates every stored run.
type Stats struct {
	Inspections   int     `json:"inspections" yaml:"inspections"`
	Wagons        int     `json:"wagons" yaml:"wagons"`
	WithText      int     `json:"with_text" yaml:"with_text"`
	NightWagons   int     `json:"night_wagons" yaml:"night_wagons"`
	AvgConfidence float64 `json:"avg_confidence" yaml:"avg_confidence"`
}

// Store wraps the database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// schema. ":memory:" keeps everything in process.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers on file databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// SaveReport stores a finished report and returns the inspection id. The run
// and all its wagons are written in one transaction.
func (s *Store) SaveReport(ctx context.Context, rep *pipeline.InspectionReport) (int64, error) {
	if rep == nil {
		return 0, errors.New("report is nil")
	}
	stamp := rep.FinishedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO inspections (run_id, video_name, timestamp, total_wagons, frames, dropped)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.VideoName, stamp.Format(timeLayout), rep.TotalWagons(), rep.FrameCount, rep.Stats.Dropped)
	if err != nil {
		return 0, fmt.Errorf("insert inspection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("inspection id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wagons (inspection_id, wagon_index, track_id, ocr_text, ocr_confidence, identifier,
			wagon_type, authority, status, original_image_path, deblurred_image_path, cropped_number_path,
			defects, is_night, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare wagon insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range rep.Entries {
		w := wagonFromEntry(e, stamp)
		if _, err := stmt.ExecContext(ctx, id, w.Index, w.TrackID, w.OCRText, w.OCRConfidence, w.Identifier,
			w.WagonType, w.Authority, w.Status, w.OriginalImagePath, w.DeblurredImagePath, w.CroppedNumberPath,
			w.Defects, w.IsNight, w.Timestamp.Format(timeLayout)); err != nil {
			return 0, fmt.Errorf("insert wagon %d: %w", e.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit inspection: %w", err)
	}
	return id, nil
}

// wagonFromEntry flattens a report entry into a row.
func wagonFromEntry(e pipeline.Entry, stamp time.Time) Wagon {
	w := Wagon{
		Index:      e.Index,
		TrackID:    e.TrackID,
		Identifier: e.Identifier,
		Status:     string(e.Status),
		Timestamp:  stamp,
	}
	rec := e.Record
	if rec == nil {
		return w
	}
	w.OCRText = rec.RawText
	w.OCRConfidence = rec.Confidence
	w.IsNight = rec.IsNight
	w.OriginalImagePath = rec.Images.Original
	w.DeblurredImagePath = rec.Images.Deblurred
	w.CroppedNumberPath = rec.Images.Number
	if rec.Decoded != nil {
		w.WagonType = rec.Decoded.Type
		w.Authority = rec.Decoded.Authority
	}
	if rec.ResolvedAt != nil {
		w.Timestamp = *rec.ResolvedAt
	} else if !rec.RequestedAt.IsZero() {
		w.Timestamp = rec.RequestedAt
	}
	return w
}

// ListInspections returns stored runs, newest first. A limit of 0 returns
// all of them.
func (s *Store) ListInspections(ctx context.Context, limit int) ([]Inspection, error) {
	query := `SELECT id, run_id, video_name, timestamp, total_wagons, frames, dropped
		FROM inspections ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inspections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Inspection
	for rows.Next() {
		in, err := scanInspection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetInspection returns one run by id.
func (s *Store) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, video_name, timestamp, total_wagons, frames, dropped
		FROM inspections WHERE id = ?`, id)
	in, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Inspection{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return in, err
}

// LatestInspection returns the most recent run.
func (s *Store) LatestInspection(ctx context.Context) (Inspection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, run_id, video_name, timestamp, total_wagons, frames, dropped
		FROM inspections ORDER BY id DESC LIMIT 1`)
	in, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Inspection{}, ErrNotFound
	}
	return in, err
}

// ListWagons returns the wagons of a run in inventory order.
func (s *Store) ListWagons(ctx context.Context, inspectionID int64) ([]Wagon, error) {
	if _, err := s.GetInspection(ctx, inspectionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, inspection_id, wagon_index, track_id, ocr_text, ocr_confidence, identifier,
			wagon_type, authority, status, original_image_path, deblurred_image_path, cropped_number_path,
			defects, is_night, timestamp
		FROM wagons WHERE inspection_id = ? ORDER BY wagon_index`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("list wagons: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Wagon
	for rows.Next() {
		var (
			w                             Wagon
			text                          sql.NullString
			conf                          sql.NullFloat64
			wtype, auth                   sql.NullString
			orig, deblur, number, defects sql.NullString
			stamp                         string
		)
		if err := rows.Scan(&w.ID, &w.InspectionID, &w.Index, &w.TrackID, &text, &conf, &w.Identifier,
			&wtype, &auth, &w.Status, &orig, &deblur, &number, &defects, &w.IsNight, &stamp); err != nil {
			return nil, fmt.Errorf("scan wagon: %w", err)
		}
		if text.Valid {
			v := text.String
			w.OCRText = &v
		}
		w.OCRConfidence = conf.Float64
		w.WagonType = wtype.String
		w.Authority = auth.String
		w.OriginalImagePath = orig.String
		w.DeblurredImagePath = deblur.String
		w.CroppedNumberPath = number.String
		w.Defects = defects.String
		w.Timestamp, _ = time.ParseInLocation(timeLayout, stamp, time.Local)
		out = append(out, w)
	}
	return out, rows.Err()
}

// DeleteInspection removes a run and its wagons.
func (s *Store) DeleteInspection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM inspections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete inspection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// Stats aggregates over every stored run.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inspections").Scan(&st.Inspections); err != nil {
		return st, fmt.Errorf("count inspections: %w", err)
	}
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(ocr_text),
			COALESCE(SUM(CASE WHEN is_night THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN ocr_text IS NOT NULL THEN ocr_confidence END)
		FROM wagons`).Scan(&st.Wagons, &st.WithText, &st.NightWagons, &avg)
	if err != nil {
		return st, fmt.Errorf("aggregate wagons: %w", err)
	}
	st.AvgConfidence = avg.Float64
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInspection(row scanner) (Inspection, error) {
	var (
		in    Inspection
		stamp string
	)
	if err := row.Scan(&in.ID, &in.RunID, &in.VideoName, &stamp, &in.TotalWagons, &in.Frames, &in.Dropped); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return in, err
		}
		return in, fmt.Errorf("scan inspection: %w", err)
	}
	in.Timestamp, _ = time.ParseInLocation(timeLayout, stamp, time.Local)
	return in, nil
}
