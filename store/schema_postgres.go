package store

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS bins (
    bin_id          TEXT PRIMARY KEY,
    location        TEXT NOT NULL DEFAULT '',
    lat             DOUBLE PRECISION,
    lon             DOUBLE PRECISION,
    capacity_liters DOUBLE PRECISION NOT NULL DEFAULT 240,
    zone_id         TEXT NOT NULL DEFAULT '',
    sleep_mode      BOOLEAN NOT NULL DEFAULT FALSE,
    device_status   TEXT NOT NULL DEFAULT 'unknown',
    last_seen       TIMESTAMPTZ,
    last_emptied    TIMESTAMPTZ,
    last_wake_command TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bins_zone ON bins(zone_id);
CREATE INDEX IF NOT EXISTS idx_bins_status ON bins(device_status);

CREATE TABLE IF NOT EXISTS telemetry (
    id          BIGSERIAL PRIMARY KEY,
    bin_id      TEXT NOT NULL,
    ts          TIMESTAMPTZ NOT NULL,
    fill_pct    DOUBLE PRECISION NOT NULL,
    batt_v      DOUBLE PRECISION,
    temp_c      DOUBLE PRECISION,
    emptied     BOOLEAN NOT NULL DEFAULT FALSE,
    received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_telemetry_bin_ts ON telemetry(bin_id, ts);

CREATE TABLE IF NOT EXISTS commands (
    id           BIGSERIAL PRIMARY KEY,
    command_id   TEXT NOT NULL UNIQUE,
    bin_id       TEXT NOT NULL,
    zone_id      TEXT NOT NULL DEFAULT '',
    command_type TEXT NOT NULL,
    params       TEXT NOT NULL DEFAULT '{}',
    status       TEXT NOT NULL DEFAULT 'pending',
    retry_count  INTEGER NOT NULL DEFAULT 0,
    issued_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    ack_deadline TIMESTAMPTZ NOT NULL,
    acked_at     TIMESTAMPTZ,
    detail       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_commands_bin ON commands(bin_id);
CREATE INDEX IF NOT EXISTS idx_commands_status ON commands(status);

CREATE TABLE IF NOT EXISTS collection_sessions (
    id          BIGSERIAL PRIMARY KEY,
    zone_id     TEXT NOT NULL,
    state       TEXT NOT NULL DEFAULT 'not_started',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at  TIMESTAMPTZ,
    checked_at  TIMESTAMPTZ,
    finished_at TIMESTAMPTZ,
    ended_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sessions_zone ON collection_sessions(zone_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active ON collection_sessions(zone_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS session_bins (
    id              BIGSERIAL PRIMARY KEY,
    session_id      BIGINT NOT NULL REFERENCES collection_sessions(id),
    bin_id          TEXT NOT NULL,
    last_command_id TEXT NOT NULL DEFAULT '',
    acked           BOOLEAN NOT NULL DEFAULT FALSE,
    responded       BOOLEAN NOT NULL DEFAULT FALSE,
    unresponsive    BOOLEAN NOT NULL DEFAULT FALSE,
    retry_count     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_session_bins_session ON session_bins(session_id);

CREATE TABLE IF NOT EXISTS alerts (
    id         BIGSERIAL PRIMARY KEY,
    bin_id     TEXT NOT NULL DEFAULT '',
    alert_type TEXT NOT NULL,
    severity   TEXT NOT NULL DEFAULT 'info',
    message    TEXT NOT NULL DEFAULT '',
    acked      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alerts_unacked ON alerts(acked) WHERE acked = FALSE;

CREATE TABLE IF NOT EXISTS ota_updates (
    id              BIGSERIAL PRIMARY KEY,
    update_id       TEXT NOT NULL UNIQUE,
    bin_id          TEXT NOT NULL,
    target_version  TEXT NOT NULL,
    current_version TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'initiated',
    detail          TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ota_bin ON ota_updates(bin_id);

CREATE TABLE IF NOT EXISTS admin_users (
    id            BIGSERIAL PRIMARY KEY,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    old_value   TEXT NOT NULL DEFAULT '',
    new_value   TEXT NOT NULL DEFAULT '',
    actor       TEXT NOT NULL DEFAULT 'system',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id);
`
