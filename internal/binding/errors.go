package binding

import "errors"

// Binding errors. All are returned by Bind before any bar is simulated.
var (
	// ErrSlotCountMismatch: the resolvable producers differ from the declared count.
	ErrSlotCountMismatch = errors.New("slot count mismatch")

	// ErrMissingProducer: a required series has no data.
	ErrMissingProducer = errors.New("missing producer")

	// ErrTypeMismatch: an input is malformed (unknown indicator, bad aspect, bad period).
	ErrTypeMismatch = errors.New("input type mismatch")

	// ErrUnresolvable: a resolution pass made no progress.
	ErrUnresolvable = errors.New("unresolvable input")
)
