// Package store provides sqlite-backed persistence for the per-profile
// settings: the calibration snapshot, algorithm
// parameters, UI window positions, and the dark-library path. It is not
// part of the wire format; the core reads and writes it directly.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"photonic/internal/calibration"
)

// Store wraps a single-file sqlite database holding one or more equipment
// profiles.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			name TEXT PRIMARY KEY,
			instance INTEGER NOT NULL DEFAULT 1,
			dark_library TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS calibration_snapshots (
			profile TEXT PRIMARY KEY,
			x_angle REAL NOT NULL,
			y_angle REAL NOT NULL,
			x_rate REAL NOT NULL,
			y_rate REAL NOT NULL,
			declination REAL NOT NULL,
			pier_side INTEGER NOT NULL,
			binning INTEGER NOT NULL,
			rotator_angle REAL NOT NULL,
			taken_at TIMESTAMP NOT NULL,
			FOREIGN KEY(profile) REFERENCES profiles(name)
		);`,
		`CREATE TABLE IF NOT EXISTS algorithm_params (
			profile TEXT NOT NULL,
			axis TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			params_json TEXT NOT NULL,
			PRIMARY KEY (profile, axis)
		);`,
		`CREATE TABLE IF NOT EXISTS window_positions (
			profile TEXT NOT NULL,
			window TEXT NOT NULL,
			x INTEGER,
			y INTEGER,
			width INTEGER,
			height INTEGER,
			PRIMARY KEY (profile, window)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	return nil
}

// EnsureProfile inserts name if it does not already exist.
func (s *Store) EnsureProfile(name string, instance int) error {
	_, err := s.DB.Exec(
		`INSERT INTO profiles (name, instance) VALUES (?, ?)
		 ON CONFLICT(name) DO NOTHING`, name, instance)
	return err
}

// SetDarkLibrary records the dark-frame library path for a profile.
func (s *Store) SetDarkLibrary(profile, path string) error {
	_, err := s.DB.Exec(
		`UPDATE profiles SET dark_library = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`,
		path, profile)
	return err
}

// DarkLibrary returns the configured dark-library path for a profile.
func (s *Store) DarkLibrary(profile string) (string, error) {
	var path sql.NullString
	err := s.DB.QueryRow(`SELECT dark_library FROM profiles WHERE name = ?`, profile).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return path.String, nil
}

// SaveCalibration upserts the calibration snapshot for a profile.
func (s *Store) SaveCalibration(profile string, cal calibration.Data) error {
	_, err := s.DB.Exec(`
		INSERT INTO calibration_snapshots
			(profile, x_angle, y_angle, x_rate, y_rate, declination, pier_side, binning, rotator_angle, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			x_angle=excluded.x_angle, y_angle=excluded.y_angle,
			x_rate=excluded.x_rate, y_rate=excluded.y_rate,
			declination=excluded.declination, pier_side=excluded.pier_side,
			binning=excluded.binning, rotator_angle=excluded.rotator_angle,
			taken_at=excluded.taken_at`,
		profile, cal.XAngle, cal.YAngle, cal.XRate, cal.YRate, cal.Declination,
		int(cal.PierSide), cal.Binning, cal.RotatorAngle, cal.Timestamp)
	return err
}

// LoadCalibration returns the last saved calibration for a profile, or a
// zero (invalid) Data if none is stored.
func (s *Store) LoadCalibration(profile string) (calibration.Data, error) {
	var d calibration.Data
	var pierSide, binning int
	var taken time.Time
	err := s.DB.QueryRow(`
		SELECT x_angle, y_angle, x_rate, y_rate, declination, pier_side, binning, rotator_angle, taken_at
		FROM calibration_snapshots WHERE profile = ?`, profile).
		Scan(&d.XAngle, &d.YAngle, &d.XRate, &d.YRate, &d.Declination, &pierSide, &binning, &d.RotatorAngle, &taken)
	if errors.Is(err, sql.ErrNoRows) {
		return calibration.Data{}, nil
	}
	if err != nil {
		return calibration.Data{}, err
	}
	d.PierSide = calibration.PierSide(pierSide)
	d.Binning = binning
	d.Timestamp = taken
	d.Valid = true
	return d, nil
}

// SaveAlgorithmParams persists the tunables for one axis's active algorithm.
func (s *Store) SaveAlgorithmParams(profile, axis, algorithm string, params map[string]float64) error {
	blob, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`
		INSERT INTO algorithm_params (profile, axis, algorithm, params_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(profile, axis) DO UPDATE SET algorithm=excluded.algorithm, params_json=excluded.params_json`,
		profile, axis, algorithm, string(blob))
	return err
}

// LoadAlgorithmParams returns the stored algorithm name and tunables for one
// axis, or ("", nil, nil) if nothing has been saved yet.
func (s *Store) LoadAlgorithmParams(profile, axis string) (string, map[string]float64, error) {
	var algo, blob string
	err := s.DB.QueryRow(
		`SELECT algorithm, params_json FROM algorithm_params WHERE profile = ? AND axis = ?`,
		profile, axis).Scan(&algo, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	var params map[string]float64
	if err := json.Unmarshal([]byte(blob), &params); err != nil {
		return "", nil, err
	}
	return algo, params, nil
}

// SaveWindowPosition records a GUI window's last position and size, exposed
// here purely as a passthrough API for the (out-of-scope) GUI layer.
func (s *Store) SaveWindowPosition(profile, window string, x, y, width, height int) error {
	_, err := s.DB.Exec(`
		INSERT INTO window_positions (profile, window, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile, window) DO UPDATE SET x=excluded.x, y=excluded.y, width=excluded.width, height=excluded.height`,
		profile, window, x, y, width, height)
	return err
}
