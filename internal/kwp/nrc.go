package kwp

import "fmt"

// NRC is a negative response code reported by the ECU
type NRC uint8

const (
	NRCGeneralReject                NRC = 0x10
	NRCServiceNotSupported          NRC = 0x11
	NRCSubFunctionNotSupported      NRC = 0x12
	NRCInvalidFormat                NRC = 0x13
	NRCBusyRepeatRequest            NRC = 0x21
	NRCConditionsNotCorrect         NRC = 0x22
	NRCRoutineNotComplete           NRC = 0x23
	NRCRequestSequenceError         NRC = 0x24
	NRCRequestOutOfRange            NRC = 0x31
	NRCSecurityAccessDenied         NRC = 0x33
	NRCInvalidKey                   NRC = 0x35
	NRCExceedNumberOfAttempts       NRC = 0x36
	NRCRequiredTimeDelayNotExpired  NRC = 0x37
	NRCUploadNotAccepted            NRC = 0x50
	NRCImproperUploadType           NRC = 0x51
	NRCCannotUploadFromAddress      NRC = 0x52
	NRCCannotUploadNumberOfBytes    NRC = 0x53
	NRCTransferSuspended            NRC = 0x71
	NRCGeneralProgrammingFailure    NRC = 0x72
	NRCWrongBlockSequenceCounter    NRC = 0x73
	NRCResponsePending              NRC = 0x78
	NRCServiceNotSupportedInSession NRC = 0x80
)

var nrcNames = map[NRC]string{
	NRCGeneralReject:                "generalReject",
	NRCServiceNotSupported:          "serviceNotSupported",
	NRCSubFunctionNotSupported:      "subFunctionNotSupported",
	NRCInvalidFormat:                "invalidFormat",
	NRCBusyRepeatRequest:            "busyRepeatRequest",
	NRCConditionsNotCorrect:         "conditionsNotCorrect",
	NRCRoutineNotComplete:           "routineNotComplete",
	NRCRequestSequenceError:         "requestSequenceError",
	NRCRequestOutOfRange:            "requestOutOfRange",
	NRCSecurityAccessDenied:         "securityAccessDenied",
	NRCInvalidKey:                   "invalidKey",
	NRCExceedNumberOfAttempts:       "exceedNumberOfAttempts",
	NRCRequiredTimeDelayNotExpired:  "requiredTimeDelayNotExpired",
	NRCUploadNotAccepted:            "uploadNotAccepted",
	NRCImproperUploadType:           "improperUploadType",
	NRCCannotUploadFromAddress:      "cannotUploadFromSpecifiedAddress",
	NRCCannotUploadNumberOfBytes:    "cannotUploadNumberOfBytesRequested",
	NRCTransferSuspended:            "transferSuspended",
	NRCGeneralProgrammingFailure:    "generalProgrammingFailure",
	NRCWrongBlockSequenceCounter:    "wrongBlockSequenceCounter",
	NRCResponsePending:              "responsePending",
	NRCServiceNotSupportedInSession: "serviceNotSupportedInActiveSession",
}

func (c NRC) String() string {
	if name, ok := nrcNames[c]; ok {
		return fmt.Sprintf("0x%02X %s", uint8(c), name)
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}
