package stats

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the root of every misuse error raised by a Registry.
var ErrConfiguration = errors.New("statistic configuration error")

// Configuration errors. All of them match ErrConfiguration with errors.Is.
var (
	ErrDuplicateKey = fmt.Errorf("%w: key already registered", ErrConfiguration)
	ErrNotOwner     = fmt.Errorf("%w: registration outside the owning process", ErrConfiguration)
	ErrUnknownKey   = fmt.Errorf("%w: key not registered", ErrConfiguration)
)

// ErrClosed is returned by registries and managers after Close.
var ErrClosed = errors.New("statistic registry closed")
