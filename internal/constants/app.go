package constants

import (
	"time"
)

// Duplicate detection polling
const (
	// DedupPollInterval - how often the dedup report is re-fetched while the job is pending (1 second)
	// Bounds the staleness between job completion and client awareness.
	DedupPollInterval = 1 * time.Second

	// MinPollInterval - lower bound accepted from configuration (100ms)
	MinPollInterval = 100 * time.Millisecond

	// PollErrorWarnEvery - log a warning every N consecutive poll transport failures
	PollErrorWarnEvery = 10
)

// File list query defaults
const (
	// SearchDebounce - quiet window before typed search text becomes part of a query key (300ms)
	SearchDebounce = 300 * time.Millisecond

	// DefaultPageSize - page size used when none is configured
	DefaultPageSize = 10

	// DefaultSort - newest first
	DefaultSort = "date"

	// DefaultFilter - no type filtering
	DefaultFilter = "all"
)

// AllowedPageSizes lists the page sizes the file service accepts.
var AllowedPageSizes = []int{5, 10, 25, 50}

// IsAllowedPageSize reports whether n is one of AllowedPageSizes.
func IsAllowedPageSize(n int) bool {
	for _, s := range AllowedPageSizes {
		if s == n {
			return true
		}
	}
	return false
}

// Request throttling (client side)
const (
	// DefaultRequestRate - sustained requests per second towards the file service
	DefaultRequestRate = 10.0

	// DefaultRequestBurst - token bucket capacity
	DefaultRequestBurst = 20.0

	// DefaultRetryMax - transport-level retries for delete/batch-delete/trigger requests
	DefaultRetryMax = 3

	// RetryWaitMin / RetryWaitMax - retryablehttp backoff bounds
	RetryWaitMin = 200 * time.Millisecond
	RetryWaitMax = 5 * time.Second

	// DefaultRequestTimeout - per-request timeout for non-streaming calls
	DefaultRequestTimeout = 30 * time.Second
)

// Transfers
const (
	// DefaultTransferConcurrency - files uploaded or downloaded in parallel by multi-file commands
	DefaultTransferConcurrency = 3

	// DiskSpaceSafetyMargin - downloads need this multiple of their total size free
	DiskSpaceSafetyMargin = 1.1
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)

// Logging
const (
	// LogMaxSizeMB / LogMaxBackups / LogMaxAgeDays - lumberjack rotation policy
	LogMaxSizeMB  = 10
	LogMaxBackups = 5
	LogMaxAgeDays = 30

	// LogTimeFormat - console timestamp format
	LogTimeFormat = "15:04:05"
)

// Paths and endpoints
const (
	DefaultAPIURL  = "http://localhost:8000/api"
	AppConfigDir   = "filehub"
	AppConfigFile  = "config"
	AppLogFileName = "filehub.log"
)
