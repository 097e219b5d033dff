// Package kwp encodes KWP2000 requests and classifies ECU responses.
//
// Every frame arriving from the ECU is decoded exactly once into a
// Response whose Kind tells the executor what to do with it.
package kwp

import "fmt"

// Service identifiers used by the engine
const (
	SIDStartDiagnosticSession     uint8 = 0x10
	SIDECUReset                   uint8 = 0x11
	SIDReadECUIdentification      uint8 = 0x1A
	SIDStopDiagnosticSession      uint8 = 0x20
	SIDReadDataByLocalIdentifier  uint8 = 0x21
	SIDRoutineControl             uint8 = 0x31
	SIDRequestDownload            uint8 = 0x34
	SIDRequestUpload              uint8 = 0x35
	SIDTransferData               uint8 = 0x36
	SIDRequestTransferExit        uint8 = 0x37
	SIDWriteDataByLocalIdentifier uint8 = 0x3B
	SIDTesterPresent              uint8 = 0x3E
	SIDNegativeResponse           uint8 = 0x7F
	positiveResponseOffset        uint8 = 0x40
	TesterPresentResponseRequired uint8 = 0x01
	IdentificationDaimler         uint8 = 0x86
)

// StartDiagnosticSession sub-functions
const (
	SessionStandard      uint8 = 0x81
	SessionReprogramming uint8 = 0x85
)

// Reprogramming parameters
const (
	ResetPowerOn uint8 = 0x01
	// RoutineCheckFlash verifies the image written since RequestDownload
	RoutineCheckFlash uint8 = 0xE1
	// DataFormatOTA marks a RequestDownload of an application image
	DataFormatOTA uint8 = 0xF0
)

var serviceNames = map[uint8]string{
	SIDStartDiagnosticSession:     "StartDiagnosticSession",
	SIDECUReset:                   "ECUReset",
	SIDReadECUIdentification:      "ReadECUIdentification",
	SIDStopDiagnosticSession:      "StopDiagnosticSession",
	SIDReadDataByLocalIdentifier:  "ReadDataByLocalIdentifier",
	SIDRoutineControl:             "StartRoutineByLocalIdentifier",
	SIDRequestDownload:            "RequestDownload",
	SIDRequestUpload:              "RequestUpload",
	SIDTransferData:               "TransferData",
	SIDRequestTransferExit:        "RequestTransferExit",
	SIDWriteDataByLocalIdentifier: "WriteDataByLocalIdentifier",
	SIDTesterPresent:              "TesterPresent",
}

// ServiceName returns a readable name for a service id
func ServiceName(sid uint8) string {
	if name, ok := serviceNames[sid]; ok {
		return name
	}
	return fmt.Sprintf("Service(0x%02X)", sid)
}

// PositiveSID returns the positive response id for a request service
func PositiveSID(sid uint8) uint8 {
	return sid + positiveResponseOffset
}

// Encode builds the request frame for a service and its parameters
func Encode(sid uint8, params []byte) []byte {
	frame := make([]byte, 0, len(params)+1)
	frame = append(frame, sid)
	return append(frame, params...)
}
