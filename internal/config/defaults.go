package config

import "time"

const (
	DefaultStorageDriver = Memory

	DefaultTickInterval  = 5 * time.Second
	DefaultLockTTL       = 30 * time.Second
	DefaultVisibility    = 300 * time.Second
	DefaultStaleBound    = 24 * time.Hour
	DefaultSweepInterval = time.Minute

	DefaultWorkerCount = 5
	DefaultBatchSize   = 10

	DefaultHTTPPort uint = 8090
)
