package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS bins (
    bin_id          TEXT PRIMARY KEY,
    location        TEXT NOT NULL DEFAULT '',
    lat             REAL,
    lon             REAL,
    capacity_liters REAL NOT NULL DEFAULT 240,
    zone_id         TEXT NOT NULL DEFAULT '',
    sleep_mode      INTEGER NOT NULL DEFAULT 0,
    device_status   TEXT NOT NULL DEFAULT 'unknown',
    last_seen       TEXT,
    last_emptied    TEXT,
    last_wake_command TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_bins_zone ON bins(zone_id);
CREATE INDEX IF NOT EXISTS idx_bins_status ON bins(device_status);

CREATE TABLE IF NOT EXISTS telemetry (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    bin_id      TEXT NOT NULL,
    ts          TEXT NOT NULL,
    fill_pct    REAL NOT NULL,
    batt_v      REAL,
    temp_c      REAL,
    emptied     INTEGER NOT NULL DEFAULT 0,
    received_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_telemetry_bin_ts ON telemetry(bin_id, ts);

CREATE TABLE IF NOT EXISTS commands (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    command_id   TEXT NOT NULL UNIQUE,
    bin_id       TEXT NOT NULL,
    zone_id      TEXT NOT NULL DEFAULT '',
    command_type TEXT NOT NULL,
    params       TEXT NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'pending',
    retry_count  INTEGER NOT NULL DEFAULT 0,
    issued_at    TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    ack_deadline TEXT NOT NULL,
    acked_at     TEXT,
    detail       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_commands_bin ON commands(bin_id);
CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status);

CREATE TABLE IF NOT EXISTS collection_sessions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    zone_id     TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'not_started',
    created_at  TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    started_at  TEXT,
    checked_at  TEXT,
    finished_at TEXT,
    ended_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_zone ON collection_sessions(zone_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active ON collection_sessions(zone_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS session_bins (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      INTEGER NOT NULL REFERENCES collection_sessions(id),
    bin_id          TEXT NOT NULL,
    last_command_id TEXT NOT NULL DEFAULT '',
    acked           INTEGER NOT NULL DEFAULT 0,
    responded       INTEGER NOT NULL DEFAULT 0,
    unresponsive    INTEGER NOT NULL DEFAULT 0,
    retry_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_bins_session ON session_bins(session_id);

CREATE TABLE IF NOT EXISTS alerts (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    bin_id     TEXT NOT NULL DEFAULT '',
    alert_type TEXT NOT NULL,
    severity   TEXT NOT NULL DEFAULT 'info',
    message    TEXT NOT NULL DEFAULT '',
    acked      INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_alerts_unacked ON alerts(acked) WHERE acked = 0;

CREATE TABLE IF NOT EXISTS ota_updates (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    update_id       TEXT NOT NULL UNIQUE,
    bin_id          TEXT NOT NULL,
    target_version  TEXT NOT NULL,
    current_version TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'initiated',
    detail          TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_ota_bin ON ota_updates(bin_id);

CREATE TABLE IF NOT EXISTS admin_users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
