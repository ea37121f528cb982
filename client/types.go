package client

import "github.com/floegence/loco-go/locoerr"

type Error = locoerr.Error

type StatusError = locoerr.StatusError

type Kind = locoerr.Kind

const (
	KindTransport   = locoerr.KindTransport
	KindCrypto      = locoerr.KindCrypto
	KindProtocol    = locoerr.KindProtocol
	KindApplication = locoerr.KindApplication
	KindState       = locoerr.KindState
)

type Stage = locoerr.Stage

const (
	StageValidate  = locoerr.StageValidate
	StageHandshake = locoerr.StageHandshake
	StageBooking   = locoerr.StageBooking
	StageCheckin   = locoerr.StageCheckin
	StageLogin     = locoerr.StageLogin
	StageKeepalive = locoerr.StageKeepalive
	StageDispatch  = locoerr.StageDispatch
)

type Code = locoerr.Code

const (
	CodeTimeout          = locoerr.CodeTimeout
	CodeCanceled         = locoerr.CodeCanceled
	CodeInvalidInput     = locoerr.CodeInvalidInput
	CodeInvalidOption    = locoerr.CodeInvalidOption
	CodeDialFailed       = locoerr.CodeDialFailed
	CodeHandshakeFailed  = locoerr.CodeHandshakeFailed
	CodeConnectionClosed = locoerr.CodeConnectionClosed
	CodeNotConnected     = locoerr.CodeNotConnected
	CodeAlreadyLoggedOn  = locoerr.CodeAlreadyLoggedOn
	CodeNotBooked        = locoerr.CodeNotBooked
	CodeNotCheckedIn     = locoerr.CodeNotCheckedIn
	CodeBusy             = locoerr.CodeBusy
	CodeNoEndpoint       = locoerr.CodeNoEndpoint
	CodeStatus           = locoerr.CodeStatus
)
