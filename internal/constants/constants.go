// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8080"
	DefaultDBPath         = "soundspan.db"
	DefaultLidarrURL      = "http://127.0.0.1:8686"
	DefaultRootFolder     = "/music"
	DefaultHTTPTimeout    = 10 * time.Second
	DefaultRetryCount     = 3
	DefaultRetryBase      = 1 * time.Second
	DefaultSweepInterval  = 5 * time.Minute
	DefaultSyncInterval   = 2 * time.Minute
	DefaultTxRetryBase    = 200 * time.Millisecond
	DefaultTxMaxRetries   = 3
	DefaultBusyTimeout    = 30000 // ms, sqlite busy_timeout pragma
	DefaultSweepChunkSize = 25
)

// Job timeout tiers for the stale-job sweep.
const (
	DefaultPendingTimeout  = 30 * time.Minute
	DefaultNoSourceTimeout = 45 * time.Minute
	DefaultImportTimeout   = 2 * time.Hour
)

// Failure and notification policy defaults.
const (
	DefaultFailureDedupWindow = 30 * time.Second
	DefaultRetryWindowMinutes = 30
	DefaultQueueSyncMissLimit = 3
)

// Acquisition tags attached to albums submitted to Lidarr.
const (
	TagLibrary   = "soundspan"
	TagDiscovery = "soundspan-discovery"
)

// Database
const (
	JobsTable = "download_jobs"
)

// UI/API limits
const (
	MaxJobListResults = 50
)
