package store

import (
	"fmt"
	"time"
)

// OTA update statuses reported by devices.
const (
	OTAInitiated   = "initiated"
	OTADownloading = "downloading"
	OTAInstalling  = "installing"
	OTASuccess     = "success"
	OTAFailed      = "failed"
)

type OTAUpdate struct {
	ID             int64     `json:"id"`
	UpdateID       string    `json:"update_id"`
	BinID          string    `json:"bin_id"`
	TargetVersion  string    `json:"target_version"`
	CurrentVersion string    `json:"current_version"`
	Status         string    `json:"status"`
	Detail         string    `json:"detail"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const otaSelectCols = `id, update_id, bin_id, target_version, current_version, status, detail, created_at, updated_at`

func scanOTA(row interface{ Scan(...any) error }) (*OTAUpdate, error) {
	var u OTAUpdate
	var createdAt, updatedAt any
	err := row.Scan(&u.ID, &u.UpdateID, &u.BinID, &u.TargetVersion, &u.CurrentVersion, &u.Status, &u.Detail, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func (db *DB) CreateOTAUpdate(u *OTAUpdate) error {
	if u.Status == "" {
		u.Status = OTAInitiated
	}
	result, err := db.Exec(db.Q(`INSERT INTO ota_updates (update_id, bin_id, target_version, current_version, status) VALUES (?, ?, ?, ?, ?)`),
		u.UpdateID, u.BinID, u.TargetVersion, u.CurrentVersion, u.Status)
	if err != nil {
		return fmt.Errorf("create ota update %s: %w", u.UpdateID, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		u.ID = id
	}
	return nil
}

func (db *DB) GetOTAUpdate(updateID string) (*OTAUpdate, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM ota_updates WHERE update_id=?`, otaSelectCols)), updateID)
	return scanOTA(row)
}

func (db *DB) SetOTAStatus(updateID, status, detail string) error {
	_, err := db.Exec(db.Q(`UPDATE ota_updates SET status=?, detail=?, updated_at=datetime('now','localtime') WHERE update_id=?`),
		status, detail, updateID)
	return err
}

func (db *DB) ListOTAUpdatesForBin(binID string) ([]*OTAUpdate, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM ota_updates WHERE bin_id=? ORDER BY id DESC`, otaSelectCols)), binID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var updates []*OTAUpdate
	for rows.Next() {
		u, err := scanOTA(rows)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	return updates, rows.Err()
}
