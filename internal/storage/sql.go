package storage

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    start_time DATETIME NOT NULL,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL REFERENCES sessions (id),
    seq        INTEGER NOT NULL,
    placement  TEXT NOT NULL,
    unknown    TEXT,
    conflicts  TEXT,
    taken_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, seq);
`

const insertSessionSQL = `
INSERT INTO sessions (id, start_time, config)
VALUES (?, ?, ?)`

const insertSnapshotSQL = `
INSERT INTO snapshots (session_id, seq, placement, unknown, conflicts, taken_at)
VALUES (?, ?, ?, ?, ?, ?)`

const selectSnapshotsSQL = `
SELECT seq, placement, unknown, conflicts, taken_at
FROM snapshots
WHERE session_id = ?
ORDER BY seq`

const selectSessionsSQL = `
SELECT id, start_time
FROM sessions
ORDER BY start_time`
