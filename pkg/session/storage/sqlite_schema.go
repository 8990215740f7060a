package storage

// TableName is the session registry table. The name is shared with existing
// databases of the desktop application and must not change.
const TableName = "claude_proxy_sessions"

// Schema creates the session table and its indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS claude_proxy_sessions (
    session_id TEXT PRIMARY KEY,
    display_id TEXT NOT NULL,
    tool_id TEXT NOT NULL,
    config_name TEXT NOT NULL DEFAULT 'global',
    custom_profile_name TEXT,
    url TEXT NOT NULL DEFAULT '',
    api_key TEXT NOT NULL DEFAULT '',
    note TEXT,
    first_seen_at INTEGER NOT NULL,
    last_seen_at INTEGER NOT NULL,
    request_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_id ON claude_proxy_sessions(tool_id);
CREATE INDEX IF NOT EXISTS idx_display_id ON claude_proxy_sessions(display_id);
CREATE INDEX IF NOT EXISTS idx_last_seen_at ON claude_proxy_sessions(last_seen_at);
`

// Migrations add columns introduced after the first release. They fail with
// "duplicate column" on databases that already have them, which is ignored.
var Migrations = []string{
	`ALTER TABLE claude_proxy_sessions ADD COLUMN custom_profile_name TEXT`,
	`ALTER TABLE claude_proxy_sessions ADD COLUMN note TEXT`,
}

const (
	upsertSession = `
INSERT INTO claude_proxy_sessions (
    session_id, display_id, tool_id, config_name, url, api_key,
    first_seen_at, last_seen_at, request_count, created_at, updated_at
) VALUES (?, ?, ?, 'global', '', '', ?, ?, 1, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    last_seen_at = excluded.last_seen_at,
    request_count = request_count + 1,
    updated_at = excluded.updated_at
RETURNING request_count`

	sessionColumns = `session_id, display_id, tool_id, config_name, custom_profile_name,
    url, api_key, note, first_seen_at, last_seen_at, request_count, created_at, updated_at`

	countSessions = `SELECT COUNT(*) FROM claude_proxy_sessions WHERE tool_id = ?`

	listSessions = `SELECT ` + sessionColumns + ` FROM claude_proxy_sessions
WHERE tool_id = ?
ORDER BY last_seen_at DESC, session_id ASC
LIMIT ? OFFSET ?`

	getSession = `SELECT ` + sessionColumns + ` FROM claude_proxy_sessions WHERE session_id = ?`

	getSessionConfig = `SELECT config_name, custom_profile_name, url, api_key
FROM claude_proxy_sessions WHERE session_id = ?`

	updateSessionConfig = `UPDATE claude_proxy_sessions
SET config_name = ?, custom_profile_name = ?, url = ?, api_key = ?, updated_at = ?
WHERE session_id = ?`

	updateSessionNote = `UPDATE claude_proxy_sessions SET note = ?, updated_at = ? WHERE session_id = ?`

	deleteSession = `DELETE FROM claude_proxy_sessions WHERE session_id = ?`

	clearSessions = `DELETE FROM claude_proxy_sessions WHERE tool_id = ?`

	selectToolIDs = `SELECT DISTINCT tool_id FROM claude_proxy_sessions ORDER BY tool_id`

	deleteIdleSessions = `DELETE FROM claude_proxy_sessions WHERE tool_id = ? AND last_seen_at < ?`

	deleteOldestSessions = `DELETE FROM claude_proxy_sessions WHERE session_id IN (
    SELECT session_id FROM claude_proxy_sessions
    WHERE tool_id = ?
    ORDER BY last_seen_at ASC, session_id ASC
    LIMIT ?
)`
)
