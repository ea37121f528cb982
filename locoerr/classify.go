package locoerr

import (
	"context"
	"errors"
	"io"
	"net"
)

// ClassifyDialCode maps a dial error to a stable Code.
func ClassifyDialCode(err error) Code {
	return classifyContextCode(err, CodeDialFailed)
}

// ClassifyHandshakeCode maps a handshake error to a stable Code.
func ClassifyHandshakeCode(err error) Code {
	return classifyContextCode(err, CodeHandshakeFailed)
}

// ClassifyReadCode maps a byte stream read error to a stable Code.
//
// A clean end of stream is reported as CodeConnectionClosed.
func ClassifyReadCode(err error) Code {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return CodeConnectionClosed
	default:
		return classifyContextCode(err, CodeReadFailed)
	}
}

// ClassifyWriteCode maps a byte stream write error to a stable Code.
func ClassifyWriteCode(err error) Code {
	switch {
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return CodeConnectionClosed
	default:
		return classifyContextCode(err, CodeWriteFailed)
	}
}

func classifyContextCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return CodeTimeout
		}
		return fallback
	}
}
