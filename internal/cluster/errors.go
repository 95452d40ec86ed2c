package cluster

import "github.com/pkg/errors"

var (
	// ErrInvalidConfig is returned when a requested shard count is below 1
	ErrInvalidConfig = errors.New("invalid cluster config")
	// ErrKeyNotFound is returned when a key is not present in the cluster
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidValue is returned when a value cannot be encoded
	ErrInvalidValue = errors.New("invalid value")
)
