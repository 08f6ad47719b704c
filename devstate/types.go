package devstate

import "time"

// BinState is the live view of one device: registry fields plus the most
// recent telemetry snapshot.
type BinState struct {
	BinID          string     `json:"bin_id"`
	Location       string     `json:"location"`
	Lat            *float64   `json:"lat,omitempty"`
	Lon            *float64   `json:"lon,omitempty"`
	CapacityLiters float64    `json:"capacity_liters"`
	ZoneID         string     `json:"zone_id"`
	SleepMode      bool       `json:"sleep_mode"`
	DeviceStatus   string     `json:"device_status"`
	FillPct        float64    `json:"fill_pct"`
	BattV          *float64   `json:"batt_v,omitempty"`
	TempC          *float64   `json:"temp_c,omitempty"`
	LastSeen       *time.Time `json:"last_seen,omitempty"`
	LastEmptied    *time.Time `json:"last_emptied,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
