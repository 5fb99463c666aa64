package shield

import "database/sql"

// Schema defines the SQLite tables used by the shield middlewares:
//   - rate_limits: per-endpoint rate limiting rules (RateLimiter)
//   - maintenance: global maintenance mode flag (Maintenance)
//
// All statements are idempotent. The login endpoint gets a default rule so a
// fresh install is protected against credential stuffing out of the box.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
VALUES ('GET /login', 30, 60, 1);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'Mantenimiento en curso, por favor espere.'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'Mantenimiento en curso, por favor espere.');
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
