package cache

const schema = `
-- Volatile entries shared between nearby healthcheck invocations
CREATE TABLE IF NOT EXISTS entries (
    key         TEXT PRIMARY KEY,
    value       TEXT    NOT NULL,
    expires_at  INTEGER NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS entries_expires_at ON entries (expires_at);
`
