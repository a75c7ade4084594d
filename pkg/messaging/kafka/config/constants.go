package config

import "time"

const (
	// Default values.
	defaultAutoOffsetReset          = "earliest"
	defaultProcessingTimeout        = 30 * time.Second
	defaultNackDelay                = time.Second
	defaultChannelBufferSize        = 100
	defaultConsumerReadinessTimeout = 60
	defaultProducerReadinessTimeout = 30
	defaultAcks                     = "all"
	defaultLingerMs                 = 5
	defaultMessageTimeoutMs         = 30000
	dlqSuffix                       = ".dlq"

	// Validation bounds.
	minProcessingTimeout = 1 * time.Second
	maxProcessingTimeout = 10 * time.Minute
	maxNackDelay         = 5 * time.Minute
	minChannelBufferSize = 10
	maxChannelBufferSize = 10000
	maxReadinessTimeout  = 600 // seconds
)

var validOffsetResets = []string{"earliest", "latest", "none"}

var validAcks = []string{"all", "-1", "1", "0"}
