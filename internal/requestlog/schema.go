// Package requestlog implements the structured access-log subsystem for
// the serving core: every resolved request (asset hit, proxy dispatch,
// email form submission, redirect, or miss) is written asynchronously to
// rolling SQLite databases, grounded on the teacher's request-log
// subsystem (same rolling-file/async-batch design, repurposed from
// per-connection proxy telemetry to per-HTTP-request serving telemetry).
package requestlog

// createDDL defines the schema for request log databases. Each rolling
// DB gets its own request_logs table.
const createDDL = `
CREATE TABLE IF NOT EXISTS request_logs (
	id               TEXT PRIMARY KEY,
	ts_ns            INTEGER NOT NULL,
	kind             INTEGER NOT NULL,
	client_ip        TEXT NOT NULL DEFAULT '',
	host             TEXT NOT NULL DEFAULT '',
	path             TEXT NOT NULL DEFAULT '',
	project_id       TEXT NOT NULL DEFAULT '',
	alias_id         TEXT NOT NULL DEFAULT '',
	proxy_target     TEXT NOT NULL DEFAULT '',
	duration_ns      INTEGER NOT NULL DEFAULT 0,
	ok               INTEGER NOT NULL DEFAULT 0,
	http_method      TEXT NOT NULL DEFAULT '',
	http_status      INTEGER NOT NULL DEFAULT 0,
	resp_bytes       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_request_logs_ts_ns      ON request_logs(ts_ns);
CREATE INDEX IF NOT EXISTS idx_request_logs_kind       ON request_logs(kind);
CREATE INDEX IF NOT EXISTS idx_request_logs_project_id ON request_logs(project_id);
CREATE INDEX IF NOT EXISTS idx_request_logs_host       ON request_logs(host);
CREATE INDEX IF NOT EXISTS idx_request_logs_status     ON request_logs(http_status);
`
