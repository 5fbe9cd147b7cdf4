package nats

import (
	"errors"
	"fmt"
)

const (
	AlreadyConnectedError = iota

	ConnectionError

	ConnectionRefusedError

	DisconnectedError

	InvalidPayloadError

	InvalidSubjectError

	InvalidURIError

	MessageHandlerError

	ProtocolError

	ReconnectFailedError

	ServerError

	TimedOutError

	UnknownError
)

// Error is returned by Client operations and delivered to the error handler.
type Error struct {
	Code    int
	Message string
	Cause   error
}

func errorName(code int) string {
	switch code {
	case AlreadyConnectedError:
		return "AlreadyConnectedError"
	case ConnectionError:
		return "ConnectionError"
	case ConnectionRefusedError:
		return "ConnectionRefusedError"
	case DisconnectedError:
		return "DisconnectedError"
	case InvalidPayloadError:
		return "InvalidPayloadError"
	case InvalidSubjectError:
		return "InvalidSubjectError"
	case InvalidURIError:
		return "InvalidURIError"
	case MessageHandlerError:
		return "MessageHandlerError"
	case ProtocolError:
		return "ProtocolError"
	case ReconnectFailedError:
		return "ReconnectFailedError"
	case ServerError:
		return "ServerError"
	case TimedOutError:
		return "TimedOutError"
	default:
		return "UnknownError"
	}
}

func (err *Error) Error() string {
	if err.Message == "" {
		return errorName(err.Code)
	}
	return errorName(err.Code) + ": " + err.Message
}

func (err *Error) Unwrap() error { return err.Cause }

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, nats.NewError(nats.TimedOutError)).
func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == err.Code
}

// NewError builds an *Error. An error passed as the first message becomes
// the cause.
func NewError(errorCode int, message ...interface{}) error {
	err := &Error{Code: errorCode}
	if len(message) == 0 {
		return err
	}

	if cause, ok := message[0].(error); ok {
		err.Cause = cause
	}
	err.Message = fmt.Sprint(message[0])
	return err
}

// ErrorCode extracts the code of an *Error anywhere in the chain, or
// UnknownError.
func ErrorCode(err error) int {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return UnknownError
}

func recoveredError(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", recovered)
}

// wrapError builds an *Error whose message names the cause.
func wrapError(errorCode int, cause error, message string) error {
	if cause == nil {
		return &Error{Code: errorCode, Message: message}
	}
	return &Error{Code: errorCode, Message: message + ": " + cause.Error(), Cause: cause}
}
