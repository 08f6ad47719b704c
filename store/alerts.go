package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Alert struct {
	ID        int64     `json:"id"`
	BinID     string    `json:"bin_id"`
	AlertType string    `json:"alert_type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Acked     bool      `json:"acked"`
	CreatedAt time.Time `json:"created_at"`
}

const alertSelectCols = `id, bin_id, alert_type, severity, message, acked, created_at`

func scanAlert(row interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	var createdAt any
	err := row.Scan(&a.ID, &a.BinID, &a.AlertType, &a.Severity, &a.Message, &a.Acked, &createdAt)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*Alert, error) {
	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (db *DB) CreateAlert(a *Alert) error {
	if a.Severity == "" {
		a.Severity = "info"
	}
	result, err := db.Exec(db.Q(`INSERT INTO alerts (bin_id, alert_type, severity, message) VALUES (?, ?, ?, ?)`),
		a.BinID, a.AlertType, a.Severity, a.Message)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

// HasUnackedAlert reports whether an open alert of the given type is
// already pending for the bin.
func (db *DB) HasUnackedAlert(binID, alertType string) (bool, error) {
	var n int
	err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM alerts WHERE bin_id=? AND alert_type=? AND acked=?`),
		binID, alertType, false).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check open alert: %w", err)
	}
	return n > 0, nil
}

func (db *DB) ListAlerts(unackedOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM alerts ORDER BY id DESC LIMIT ?`, alertSelectCols)
	if unackedOnly {
		query = fmt.Sprintf(`SELECT %s FROM alerts WHERE acked=? ORDER BY id DESC LIMIT ?`, alertSelectCols)
		rows, err := db.Query(db.Q(query), false, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanAlerts(rows)
	}
	rows, err := db.Query(db.Q(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (db *DB) AckAlert(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE alerts SET acked=? WHERE id=?`), true, id)
	return err
}
