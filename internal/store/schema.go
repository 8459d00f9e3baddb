package store

const Schema = `
CREATE TABLE IF NOT EXISTS download_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	target_mbid TEXT NOT NULL DEFAULT '',
	artist_mbid TEXT NOT NULL DEFAULT '',
	correlation_id TEXT NOT NULL DEFAULT '',
	lidarr_ref TEXT,
	lidarr_album_id INTEGER,
	discovery_batch_id TEXT,
	metadata TEXT NOT NULL DEFAULT '{}',  -- JSON
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	started_at DATETIME,
	completed_at DATETIME,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON download_jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_target_mbid ON download_jobs(target_mbid);
CREATE INDEX IF NOT EXISTS idx_jobs_artist_mbid ON download_jobs(artist_mbid);
CREATE INDEX IF NOT EXISTS idx_jobs_lidarr_ref ON download_jobs(lidarr_ref);
CREATE INDEX IF NOT EXISTS idx_jobs_discovery_batch ON download_jobs(discovery_batch_id);

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
