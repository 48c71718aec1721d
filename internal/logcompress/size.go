package logcompress

import (
	"errors"
	"fmt"
)

// ErrInvalidQueueSize is returned when a LogQueueSize cannot be honored.
var ErrInvalidQueueSize = errors.New("invalid log queue size")

// LogQueueSize bounds one staging queue. MaxTotalSize caps the bytes held by
// ready segments; MaxSegmentSize is the size at which a segment is sealed.
type LogQueueSize struct {
	MaxTotalSize   int
	MaxSegmentSize int
}

// Validate checks that a segment fits within the total budget.
func (s LogQueueSize) Validate() error {
	if s.MaxTotalSize <= 0 {
		return fmt.Errorf("%w: max total size must be positive, got %d", ErrInvalidQueueSize, s.MaxTotalSize)
	}
	if s.MaxSegmentSize <= 0 {
		return fmt.Errorf("%w: max segment size must be positive, got %d", ErrInvalidQueueSize, s.MaxSegmentSize)
	}
	if s.MaxSegmentSize > s.MaxTotalSize {
		return fmt.Errorf("%w: max segment size %d exceeds max total size %d",
			ErrInvalidQueueSize, s.MaxSegmentSize, s.MaxTotalSize)
	}
	return nil
}
