package devstate

import (
	"context"
	"log"
	"time"

	"cleanroute/store"
)

// Manager provides write-through device state: SQL first, then Redis.
// Redis entries are a cache of the SQL truth and can always be rebuilt.
type Manager struct {
	db    *store.DB
	redis *RedisStore
}

func NewManager(db *store.DB, redis *RedisStore) *Manager {
	return &Manager{db: db, redis: redis}
}

// RecordTelemetry appends a reading to SQL, updates the bin's registry
// row and refreshes the Redis snapshot.
func (m *Manager) RecordTelemetry(r *store.TelemetryReading) error {
	if err := m.db.InsertTelemetry(r); err != nil {
		return err
	}
	if err := m.db.TouchBinSeen(r.BinID, r.Timestamp); err != nil {
		return err
	}
	if r.Emptied {
		if err := m.db.MarkBinEmptied(r.BinID, r.Timestamp); err != nil {
			return err
		}
	}
	m.refreshBinRedis(r.BinID)
	return nil
}

// SetSleepMode flips the registry flag and refreshes Redis.
func (m *Manager) SetSleepMode(binID string, sleeping bool) error {
	if err := m.db.SetBinSleepMode(binID, sleeping); err != nil {
		return err
	}
	m.refreshBinRedis(binID)
	return nil
}

func (m *Manager) SetDeviceStatus(binID, status string) error {
	if err := m.db.SetBinDeviceStatus(binID, status); err != nil {
		return err
	}
	m.refreshBinRedis(binID)
	return nil
}

// Heartbeat counts as liveness without appending telemetry.
func (m *Manager) Heartbeat(binID string, at time.Time) error {
	if err := m.db.TouchBinSeen(binID, at); err != nil {
		return err
	}
	m.refreshBinRedis(binID)
	return nil
}

// GetBinState reads from Redis, falling back to SQL on a miss.
func (m *Manager) GetBinState(binID string) (*BinState, error) {
	ctx := context.Background()
	state, err := m.redis.GetBinState(ctx, binID)
	if err == nil && state != nil {
		return state, nil
	}
	return m.getBinStateFromSQL(binID)
}

// GetAllBinStates reads every bin's state, preferring Redis.
func (m *Manager) GetAllBinStates() (map[string]*BinState, error) {
	ctx := context.Background()
	states := make(map[string]*BinState)

	ids, err := m.redis.GetAllBinIDs(ctx)
	if err == nil && len(ids) > 0 {
		for _, id := range ids {
			state, err := m.GetBinState(id)
			if err == nil && state != nil {
				states[id] = state
			}
		}
		return states, nil
	}

	bins, err := m.db.ListBins()
	if err != nil {
		return nil, err
	}
	for _, b := range bins {
		state, err := m.getBinStateFromSQL(b.BinID)
		if err != nil {
			continue
		}
		states[b.BinID] = state
	}
	return states, nil
}

// SyncRedisFromSQL rebuilds the full Redis cache from SQL. Called on startup.
func (m *Manager) SyncRedisFromSQL() error {
	ctx := context.Background()
	if err := m.redis.FlushAll(ctx); err != nil {
		return err
	}
	bins, err := m.db.ListBins()
	if err != nil {
		return err
	}
	for _, b := range bins {
		state, err := m.getBinStateFromSQL(b.BinID)
		if err != nil {
			log.Printf("devstate: sync skip %s: %v", b.BinID, err)
			continue
		}
		if err := m.redis.SetBinState(ctx, state); err != nil {
			log.Printf("devstate: redis set %s: %v", b.BinID, err)
		}
	}
	return nil
}

// RemoveBin clears the cache entry for a deleted bin.
func (m *Manager) RemoveBin(binID string) {
	if err := m.redis.RemoveBin(context.Background(), binID); err != nil {
		log.Printf("devstate: redis remove %s: %v", binID, err)
	}
}

func (m *Manager) getBinStateFromSQL(binID string) (*BinState, error) {
	b, err := m.db.GetBin(binID)
	if err != nil {
		return nil, err
	}
	state := &BinState{
		BinID:          b.BinID,
		Location:       b.Location,
		Lat:            b.Lat,
		Lon:            b.Lon,
		CapacityLiters: b.CapacityLiters,
		ZoneID:         b.ZoneID,
		SleepMode:      b.SleepMode,
		DeviceStatus:   b.DeviceStatus,
		LastSeen:       b.LastSeen,
		LastEmptied:    b.LastEmptied,
		UpdatedAt:      time.Now(),
	}
	latest, err := m.db.LatestTelemetry(binID)
	if err == nil {
		state.FillPct = latest.FillPct
		state.BattV = latest.BattV
		state.TempC = latest.TempC
	}
	return state, nil
}

// refreshBinRedis re-reads the bin from SQL and overwrites its Redis entry.
// Redis failures are logged, not propagated; SQL remains the truth.
func (m *Manager) refreshBinRedis(binID string) {
	state, err := m.getBinStateFromSQL(binID)
	if err != nil {
		log.Printf("devstate: refresh %s: %v", binID, err)
		return
	}
	if err := m.redis.SetBinState(context.Background(), state); err != nil {
		log.Printf("devstate: redis set %s: %v", binID, err)
	}
}
