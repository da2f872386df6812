package types

import (
	"time"
)

type ClientManager interface {
	Call(serviceName, method, path string, data interface{}, opts *CallOptions) ([]byte, int, error)
}

type CallOptions struct {
	Timeout time.Duration
	Retry   int
	Headers map[string]string
}
