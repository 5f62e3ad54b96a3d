package mapper

import "fmt"

// ConnectError reports a failure to reach or configure the sensor during
// start-up. It is surfaced to the Start caller and is never retried.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// FrameError is a transient per-frame read or decode failure. Frame errors
// count toward the consecutive-error threshold and are recovered locally
// until the threshold is exceeded.
type FrameError struct {
	Err error
}

func (e *FrameError) Error() string { return fmt.Sprintf("frame read: %v", e.Err) }

func (e *FrameError) Unwrap() error { return e.Err }

// ChannelError is an unrecoverable streaming failure signalled by the
// acquisition goroutine. The scheduler aborts scanning on receipt.
type ChannelError struct {
	Err error
}

func (e *ChannelError) Error() string { return fmt.Sprintf("acquisition: %v", e.Err) }

func (e *ChannelError) Unwrap() error { return e.Err }

// ImportError reports a malformed interchange file. The store is left
// unmodified when an import fails.
type ImportError struct {
	Path string
	Err  error
}

func (e *ImportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("import: %v", e.Err)
	}
	return fmt.Sprintf("import %s: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }
