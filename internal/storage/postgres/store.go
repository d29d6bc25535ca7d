package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/labconnect/lcp-gateway/internal/models"
	"github.com/labconnect/lcp-gateway/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id          TEXT PRIMARY KEY,
	protocol           TEXT NOT NULL,
	connection_details JSONB NOT NULL,
	metadata           JSONB NOT NULL,
	status             TEXT NOT NULL,
	last_seen          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS data_points (
	id            BIGSERIAL PRIMARY KEY,
	device_id     TEXT NOT NULL,
	protocol      TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	parameters    JSONB NOT NULL,
	experiment_id TEXT
);

CREATE INDEX IF NOT EXISTS data_points_device_ts ON data_points (device_id, ts);
`

// Store is the Postgres-backed storage layer, driven through database/sql
// with the pgx driver.
type Store struct {
	db *sql.DB
}

// Open connects to the database and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDevice upserts the device record.
func (s *Store) SaveDevice(ctx context.Context, record models.DeviceRecord) error {
	details, err := json.Marshal(record.ConnectionDetails)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return err
	}

	lastSeen := sql.NullTime{}
	if !record.LastSeen.IsZero() {
		lastSeen = sql.NullTime{Time: record.LastSeen, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO devices (device_id, protocol, connection_details, metadata, status, last_seen)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (device_id) DO UPDATE SET
	protocol = EXCLUDED.protocol,
	connection_details = EXCLUDED.connection_details,
	metadata = EXCLUDED.metadata,
	status = EXCLUDED.status,
	last_seen = EXCLUDED.last_seen`,
		record.DeviceID, string(record.Transport), details, metadata, string(record.Status), lastSeen)
	return err
}

// GetDevice returns the record or storage.ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (models.DeviceRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT device_id, protocol, connection_details, metadata, status, last_seen
FROM devices WHERE device_id = $1`, deviceID)

	record, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceRecord{}, storage.ErrNotFound
	}
	return record, err
}

// ListDevices returns every stored record.
func (s *Store) ListDevices(ctx context.Context) ([]models.DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT device_id, protocol, connection_details, metadata, status, last_seen
FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DeviceRecord
	for rows.Next() {
		record, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// UpdateStatus mutates the stored record's status and last-seen timestamp.
func (s *Store) UpdateStatus(ctx context.Context, deviceID string, status models.DeviceStatus, lastSeen time.Time) error {
	var result sql.Result
	var err error
	if lastSeen.IsZero() {
		result, err = s.db.ExecContext(ctx,
			`UPDATE devices SET status = $1 WHERE device_id = $2`, string(status), deviceID)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE devices SET status = $1, last_seen = $2 WHERE device_id = $3`,
			string(status), lastSeen, deviceID)
	}
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveDataPoint appends one reading.
func (s *Store) SaveDataPoint(ctx context.Context, point models.DataPoint) error {
	parameters, err := json.Marshal(point.Parameters)
	if err != nil {
		return err
	}

	experimentID := sql.NullString{}
	if point.ExperimentID != nil {
		experimentID = sql.NullString{String: *point.ExperimentID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO data_points (device_id, protocol, ts, parameters, experiment_id)
VALUES ($1, $2, $3, $4, $5)`,
		point.DeviceID, string(point.Transport), point.Timestamp, parameters, experimentID)
	return err
}

// LatestDataPoint returns the device's most recent reading.
func (s *Store) LatestDataPoint(ctx context.Context, deviceID string) (models.DataPoint, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT device_id, protocol, ts, parameters, experiment_id
FROM data_points WHERE device_id = $1 ORDER BY ts DESC, id DESC LIMIT 1`, deviceID)

	point, err := scanDataPoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DataPoint{}, storage.ErrNotFound
	}
	return point, err
}

// QueryDataPoints returns the device's readings inside [from, to), oldest
// first. Zero bounds are open.
func (s *Store) QueryDataPoints(ctx context.Context, deviceID string, from, to time.Time) ([]models.DataPoint, error) {
	query := `
SELECT device_id, protocol, ts, parameters, experiment_id
FROM data_points WHERE device_id = $1`
	args := []interface{}{deviceID}

	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND ts >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND ts < $%d", len(args))
	}
	query += " ORDER BY ts, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.DataPoint
	for rows.Next() {
		point, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row scanner) (models.DeviceRecord, error) {
	var (
		record   models.DeviceRecord
		protocol string
		details  []byte
		metadata []byte
		status   string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&record.DeviceID, &protocol, &details, &metadata, &status, &lastSeen); err != nil {
		return models.DeviceRecord{}, err
	}

	record.Transport = models.TransportKind(protocol)
	record.Status = models.DeviceStatus(status)
	if lastSeen.Valid {
		record.LastSeen = lastSeen.Time
	}
	if err := json.Unmarshal(details, &record.ConnectionDetails); err != nil {
		return models.DeviceRecord{}, err
	}
	if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
		return models.DeviceRecord{}, err
	}
	return record, nil
}

func scanDataPoint(row scanner) (models.DataPoint, error) {
	var (
		point        models.DataPoint
		protocol     string
		parameters   []byte
		experimentID sql.NullString
	)
	if err := row.Scan(&point.DeviceID, &protocol, &point.Timestamp, &parameters, &experimentID); err != nil {
		return models.DataPoint{}, err
	}

	point.Transport = models.TransportKind(protocol)
	if experimentID.Valid {
		point.ExperimentID = &experimentID.String
	}
	if err := json.Unmarshal(parameters, &point.Parameters); err != nil {
		return models.DataPoint{}, err
	}
	return point, nil
}
