package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Bin struct {
	BinID          string     `json:"bin_id"`
	Location       string     `json:"location"`
	Lat            *float64   `json:"lat,omitempty"`
	Lon            *float64   `json:"lon,omitempty"`
	CapacityLiters float64    `json:"capacity_liters"`
	ZoneID         string     `json:"zone_id"`
	SleepMode      bool       `json:"sleep_mode"`
	DeviceStatus   string     `json:"device_status"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	LastEmptied    *time.Time `json:"last_emptied,omitempty"`
	LastWakeCmd    string     `json:"last_wake_command,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const binSelectCols = `bin_id, location, lat, lon, capacity_liters, zone_id, sleep_mode, device_status, last_seen, last_emptied, COALESCE(last_wake_command, ''), created_at, updated_at`

func scanBin(row interface{ Scan(...any) error }) (*Bin, error) {
	var b Bin
	var lat, lon sql.NullFloat64
	var lastSeen, lastEmptied any
	var createdAt, updatedAt any
	err := row.Scan(&b.BinID, &b.Location, &lat, &lon, &b.CapacityLiters, &b.ZoneID,
		&b.SleepMode, &b.DeviceStatus, &lastSeen, &lastEmptied, &b.LastWakeCmd, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lat.Valid {
		b.Lat = &lat.Float64
	}
	if lon.Valid {
		b.Lon = &lon.Float64
	}
	b.LastSeen = parseTimePtr(lastSeen)
	b.LastEmptied = parseTimePtr(lastEmptied)
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func scanBins(rows *sql.Rows) ([]*Bin, error) {
	var bins []*Bin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		bins = append(bins, b)
	}
	return bins, rows.Err()
}

func (db *DB) CreateBin(b *Bin) error {
	var lat, lon any
	if b.Lat != nil {
		lat = *b.Lat
	}
	if b.Lon != nil {
		lon = *b.Lon
	}
	if b.DeviceStatus == "" {
		b.DeviceStatus = "unknown"
	}
	_, err := db.Exec(db.Q(`INSERT INTO bins (bin_id, location, lat, lon, capacity_liters, zone_id, sleep_mode, device_status) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		b.BinID, b.Location, lat, lon, b.CapacityLiters, b.ZoneID, b.SleepMode, b.DeviceStatus)
	if err != nil {
		return fmt.Errorf("create bin %s: %w", b.BinID, err)
	}
	return nil
}

func (db *DB) UpdateBin(b *Bin) error {
	var lat, lon any
	if b.Lat != nil {
		lat = *b.Lat
	}
	if b.Lon != nil {
		lon = *b.Lon
	}
	_, err := db.Exec(db.Q(`UPDATE bins SET location=?, lat=?, lon=?, capacity_liters=?, zone_id=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		b.Location, lat, lon, b.CapacityLiters, b.ZoneID, b.BinID)
	if err != nil {
		return fmt.Errorf("update bin %s: %w", b.BinID, err)
	}
	return nil
}

func (db *DB) DeleteBin(binID string) error {
	_, err := db.Exec(db.Q(`DELETE FROM bins WHERE bin_id=?`), binID)
	return err
}

func (db *DB) GetBin(binID string) (*Bin, error) {
	row := db.QueryRow(db.Q(fmt.Sprintf(`SELECT %s FROM bins WHERE bin_id=?`, binSelectCols)), binID)
	return scanBin(row)
}

func (db *DB) ListBins() ([]*Bin, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT %s FROM bins ORDER BY bin_id`, binSelectCols))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBins(rows)
}

func (db *DB) ListBinsByZone(zoneID string) ([]*Bin, error) {
	rows, err := db.Query(db.Q(fmt.Sprintf(`SELECT %s FROM bins WHERE zone_id=? ORDER BY bin_id`, binSelectCols)), zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBins(rows)
}

func (db *DB) SetBinSleepMode(binID string, sleeping bool) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET sleep_mode=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		sleeping, binID)
	return err
}

func (db *DB) SetBinZone(binID, zoneID string) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET zone_id=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		zoneID, binID)
	return err
}

func (db *DB) SetBinDeviceStatus(binID, status string) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET device_status=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		status, binID)
	return err
}

// TouchBinSeen records device activity and promotes the bin to online.
func (db *DB) TouchBinSeen(binID string, seen time.Time) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET last_seen=?, device_status='online', updated_at=datetime('now','localtime') WHERE bin_id=?`),
		fmtTime(seen), binID)
	return err
}

func (db *DB) MarkBinEmptied(binID string, at time.Time) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET last_emptied=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		fmtTime(at), binID)
	return err
}

func (db *DB) SetBinLastWakeCommand(binID, commandID string) error {
	_, err := db.Exec(db.Q(`UPDATE bins SET last_wake_command=?, updated_at=datetime('now','localtime') WHERE bin_id=?`),
		commandID, binID)
	return err
}

func (db *DB) CountOnlineBins() (int, error) {
	var n int
	err := db.QueryRow(db.Q(`SELECT COUNT(*) FROM bins WHERE device_status='online'`)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count online bins: %w", err)
	}
	return n, nil
}

// MarkStaleBinsOffline flips online bins past the cutoff to offline and
// returns the affected bin IDs.
func (db *DB) MarkStaleBinsOffline(cutoff time.Time) ([]string, error) {
	rows, err := db.Query(db.Q(`SELECT bin_id FROM bins WHERE device_status='online' AND (last_seen IS NULL OR last_seen < ?)`),
		fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := db.SetBinDeviceStatus(id, "offline"); err != nil {
			return ids, err
		}
	}
	return ids, nil
}
