package models

const (
	StatusActive    = "active"
	StatusUpdated   = "updated"
	StatusCancelled = "cancelled"
)

const (
	ParseModeMarkdown = "Markdown"
	ParseModeHTML     = "HTML"
)

const (
	// DefaultSessionTTL idle lifetime of a conversation, seconds
	DefaultSessionTTL = 24 * 60 * 60

	// DefaultCacheTTL freshness window of remote busy intervals, seconds
	DefaultCacheTTL = 30

	// DefaultRemoteTimeout per-call limit for calendar requests, seconds
	DefaultRemoteTimeout = 10

	// DefaultRemoteWorkers concurrent remote calendar calls
	DefaultRemoteWorkers = 4

	// DefaultReminderInterval sweep period, seconds
	DefaultReminderInterval = 60

	// DefaultNotifyQueueSize outbound notification buffer
	DefaultNotifyQueueSize = 256

	// RateLimitMessages messages per window per user
	RateLimitMessages = 20

	// RateLimitWindow rate limit window, seconds
	RateLimitWindow = 60

	// SheetsCacheTTL row index cache lifetime, seconds
	SheetsCacheTTL = 60 * 60
)

// DefaultLeadMinutes are the reminder lead times.
var DefaultLeadMinutes = []int{30, 10}
