package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixProcessed = "processed:"
)

const (
	DefaultMongoDBName = "enrollsync"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DefaultRequeueDelay = 30 * time.Second
)

const (
	OnRedisErrorFallback = "fallback"
	OnRedisErrorFail     = "fail"
)

const (
	ServiceIntake     = "intake-service"
	ServiceProcessor  = "batch-processor"
	ServiceManagement = "management-service"
)

// Header names carried on enrollment event messages and broadcasts.
const (
	HeaderSubmittedTimestamp = "submitted_timestamp"
	HeaderPublishable        = "is_trading_partner_publishable"
	HeaderStatusCode         = "status_code"
	HeaderEventKey           = "event_key"
	HeaderLevel              = "level"
	HeaderBatchID            = "batch_id"
	HeaderTransactionID      = "transaction_id"
	HeaderEnrollmentID       = "hbx_enrollment_id"
	HeaderEnrollmentAction   = "enrollment_action_uri"
)
