package kwp

import "fmt"

// Annotate renders a short human description of a frame for traces
func Annotate(frame []byte) string {
	if len(frame) == 0 {
		return "empty"
	}
	sid := frame[0]

	if sid == SIDNegativeResponse {
		if len(frame) < 3 {
			return "NegativeResponse (truncated)"
		}
		return fmt.Sprintf("NegativeResponse %s: %s", ServiceName(frame[1]), NRC(frame[2]))
	}

	if sid >= positiveResponseOffset && sid < SIDNegativeResponse+positiveResponseOffset {
		if _, ok := serviceNames[sid-positiveResponseOffset]; ok {
			return annotateWithID("+"+ServiceName(sid-positiveResponseOffset), sid-positiveResponseOffset, frame[1:])
		}
	}

	return annotateWithID(ServiceName(sid), sid, frame[1:])
}

func annotateWithID(name string, sid uint8, params []byte) string {
	switch sid {
	case SIDReadDataByLocalIdentifier, SIDWriteDataByLocalIdentifier, SIDReadECUIdentification,
		SIDStartDiagnosticSession, SIDRoutineControl:
		if len(params) > 0 {
			return fmt.Sprintf("%s 0x%02X (%d bytes)", name, params[0], len(params)-1)
		}
	}
	return fmt.Sprintf("%s (%d bytes)", name, len(params))
}
