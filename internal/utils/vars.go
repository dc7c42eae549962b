package utils

import "time"

const ToolUserAgent = "volley/1.0"

const (
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultMaxEvents      = 10
)
