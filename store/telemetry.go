package store

import (
	"database/sql"
	"fmt"
	"time"
)

type TelemetryReading struct {
	ID         int64     `json:"id"`
	BinID      string    `json:"bin_id"`
	Timestamp  time.Time `json:"timestamp"`
	FillPct    float64   `json:"fill_pct"`
	BattV      *float64  `json:"batt_v,omitempty"`
	TempC      *float64  `json:"temp_c,omitempty"`
	Emptied    bool      `json:"emptied"`
	ReceivedAt time.Time `json:"received_at"`
}

const telemetrySelectCols = `id, bin_id, ts, fill_pct, batt_v, temp_c, emptied, received_at`

func scanTelemetry(row interface{ Scan(...any) error }) (*TelemetryReading, error) {
	var r TelemetryReading
	var battV, tempC sql.NullFloat64
	var ts, receivedAt any
	err := row.Scan(&r.ID, &r.BinID, &ts, &r.FillPct, &battV, &tempC, &r.Emptied, &receivedAt)
	if err != nil {
		return nil, err
	}
	if battV.Valid {
		r.BattV = &battV.Float64
	}
	if tempC.Valid {
		r.TempC = &tempC.Float64
	}
	r.Timestamp = parseTime(ts)
	r.ReceivedAt = parseTime(receivedAt)
	return &r, nil
}

func scanTelemetryRows(rows *sql.Rows) ([]*TelemetryReading, error) {
	var readings []*TelemetryReading
	for rows.Next() {
		r, err := scanTelemetry(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (db *DB) InsertTelemetry(r *TelemetryReading) error {
	var battV, tempC any
	if r.BattV != nil {
		battV = *r.BattV
	}
	if r.TempC != nil {
		tempC = *r.TempC
	}
	_, err := db.Exec(db.Q(`INSERT INTO telemetry (bin_id, ts, fill_pct, batt_v, temp_c, emptied) VALUES (?, ?, ?, ?, ?, ?)`),
		r.BinID, fmtTime(r.Timestamp), r.FillPct, battV, tempC, r.Emptied)
	if err != nil {
		return fmt.Errorf("insert telemetry for %s: %w", r.BinID, err)
	}
	return nil
}

// TelemetrySince returns readings for a bin newer than the cutoff, oldest first.
func (db *DB) TelemetrySince(binID string, since time.Time) ([]*TelemetryReading, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM telemetry WHERE bin_id=? AND ts >= ? ORDER BY ts ASC`, telemetrySelectCols)),
		binID, fmtTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTelemetryRows(rows)
}

func (db *DB) LatestTelemetry(binID string) (*TelemetryReading, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM telemetry WHERE bin_id=? ORDER BY ts DESC LIMIT 1`, telemetrySelectCols)), binID)
	return scanTelemetry(row)
}

func (db *DB) RecentTelemetry(limit int) ([]*TelemetryReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM telemetry ORDER BY ts DESC LIMIT ?`, telemetrySelectCols)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTelemetryRows(rows)
}

// PruneTelemetry drops readings older than the cutoff and returns rows removed.
func (db *DB) PruneTelemetry(cutoff time.Time) (int64, error) {
	result, err := db.Exec(db.Q(`DELETE FROM telemetry WHERE ts < ?`), fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
