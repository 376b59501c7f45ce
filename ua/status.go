package ua

import "fmt"

// StatusCode represents an OPC UA StatusCode. A StatusCode is an error, so remote services can
// return the server-reported status directly.
type StatusCode uint32

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// Status codes used by the client.
const (
	StatusOK                                StatusCode = 0x00000000
	StatusUncertain                         StatusCode = 0x40000000
	StatusBad                               StatusCode = 0x80000000
	StatusBadInternalError                  StatusCode = 0x80020000
	StatusBadCommunicationError             StatusCode = 0x80050000
	StatusBadTimeout                        StatusCode = 0x800A0000
	StatusBadServerNotConnected             StatusCode = 0x800D0000
	StatusBadServerHalted                   StatusCode = 0x800E0000
	StatusBadSessionIDInvalid               StatusCode = 0x80250000
	StatusBadSessionClosed                  StatusCode = 0x80260000
	StatusBadSubscriptionIDInvalid          StatusCode = 0x80280000
	StatusBadNodeIDUnknown                  StatusCode = 0x80340000
	StatusBadAttributeIDInvalid             StatusCode = 0x80350000
	StatusBadNotReadable                    StatusCode = 0x803A0000
	StatusBadNotSupported                   StatusCode = 0x803D0000
	StatusBadMonitoredItemIDInvalid         StatusCode = 0x80420000
	StatusBadMonitoredItemFilterUnsupported StatusCode = 0x80440000
	StatusBadNoContinuationPoints           StatusCode = 0x804B0000
	StatusBadTooManySessions                StatusCode = 0x80560000
	StatusBadTooManySubscriptions           StatusCode = 0x80770000
	StatusBadTCPEndpointURLInvalid          StatusCode = 0x80830000
	StatusBadSecureChannelClosed            StatusCode = 0x80860000
	StatusBadInvalidArgument                StatusCode = 0x80AB0000
	StatusBadConnectionRejected             StatusCode = 0x80AC0000
	StatusBadConnectionClosed               StatusCode = 0x80AE0000
)

var statusNames = map[StatusCode]string{
	StatusOK:                                "Good",
	StatusUncertain:                         "Uncertain",
	StatusBad:                               "Bad",
	StatusBadInternalError:                  "BadInternalError",
	StatusBadCommunicationError:             "BadCommunicationError",
	StatusBadTimeout:                        "BadTimeout",
	StatusBadServerNotConnected:             "BadServerNotConnected",
	StatusBadServerHalted:                   "BadServerHalted",
	StatusBadSessionIDInvalid:               "BadSessionIdInvalid",
	StatusBadSessionClosed:                  "BadSessionClosed",
	StatusBadSubscriptionIDInvalid:          "BadSubscriptionIdInvalid",
	StatusBadNodeIDUnknown:                  "BadNodeIdUnknown",
	StatusBadAttributeIDInvalid:             "BadAttributeIdInvalid",
	StatusBadNotReadable:                    "BadNotReadable",
	StatusBadNotSupported:                   "BadNotSupported",
	StatusBadMonitoredItemIDInvalid:         "BadMonitoredItemIdInvalid",
	StatusBadMonitoredItemFilterUnsupported: "BadMonitoredItemFilterUnsupported",
	StatusBadNoContinuationPoints:           "BadNoContinuationPoints",
	StatusBadTooManySessions:                "BadTooManySessions",
	StatusBadTooManySubscriptions:           "BadTooManySubscriptions",
	StatusBadTCPEndpointURLInvalid:          "BadTcpEndpointUrlInvalid",
	StatusBadSecureChannelClosed:            "BadSecureChannelClosed",
	StatusBadInvalidArgument:                "BadInvalidArgument",
	StatusBadConnectionRejected:             "BadConnectionRejected",
	StatusBadConnectionClosed:               "BadConnectionClosed",
}

// String returns the symbolic name of the status code.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Error implements the error interface.
func (s StatusCode) Error() string {
	return "opcua: " + s.String()
}

// IsGood returns true if the status code has good severity.
func (s StatusCode) IsGood() bool {
	return uint32(s)&StatusSeverityMask == StatusSeverityGood
}

// IsUncertain returns true if the status code has uncertain severity.
func (s StatusCode) IsUncertain() bool {
	return uint32(s)&StatusSeverityMask == StatusSeverityUncertain
}

// IsBad returns true if the status code has bad severity.
func (s StatusCode) IsBad() bool {
	return uint32(s)&StatusSeverityMask == StatusSeverityBad
}

// Code strips the info bits, leaving severity, sub-code and structure changed flags.
func (s StatusCode) Code() StatusCode {
	return StatusCode(uint32(s) & 0xFFFF0000)
}
