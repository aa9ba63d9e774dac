package errors

// ExchangeError is the error type delivered through the request
// lifecycle. Two ExchangeErrors compare equal under [errors.Is] when
// they share the same kind, regardless of detail or cause, so callers
// can match against the exported sentinels below.
type ExchangeError struct {
	msg    string
	detail string
	error
}

func (e ExchangeError) Error() string {
	msg := e.msg
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.error != nil {
		msg += ", caused by: " + e.error.Error()
	}
	return msg
}

// With returns a copy of e carrying additional human-readable detail.
func (e ExchangeError) With(detail string) ExchangeError {
	return ExchangeError{e.msg, detail, e.error}
}

func (e ExchangeError) Wrap(err error) ExchangeError {
	if err == nil {
		return e
	}
	return ExchangeError{e.msg, e.detail, err}
}

func (e ExchangeError) Unwrap() error {
	return e.error
}

func (e ExchangeError) Is(err error) bool {
	if err, ok := err.(ExchangeError); ok {
		return e.msg == err.msg
	}
	return false
}

func reg(msg string) ExchangeError {
	return ExchangeError{msg: msg}
}

var (
	// ErrInvalidArgument reports a malformed request descriptor. It is
	// always returned synchronously at prepare time, never through a
	// callback.
	ErrInvalidArgument = reg("invalid argument")
	// ErrNotSupported reports a request the transport refuses to carry,
	// currently only the CONNECT method.
	ErrNotSupported = reg("not supported")

	ErrRequestAborted   = reg("request aborted")
	ErrRequestTimeout   = reg("request timed out")
	ErrConnectionClosed = reg("connection closed")
	ErrProtocol         = reg("protocol violation")
	ErrTransport        = reg("transport failure")
)
