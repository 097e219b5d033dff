package kwp

import "fmt"

// Kind classifies a frame received while a request is in flight
type Kind uint8

const (
	// KindUnrelated frames do not answer the in-flight request and are ignored
	KindUnrelated Kind = iota
	KindPositive
	KindNegative
	KindPending
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindPositive:
		return "positive"
	case KindNegative:
		return "negative"
	case KindPending:
		return "pending"
	case KindMalformed:
		return "malformed"
	default:
		return "unrelated"
	}
}

// Response is the decoded form of one ECU frame
type Response struct {
	Kind Kind
	// Data is the positive response payload with the response SID stripped
	Data []byte
	Code NRC
	// Reason explains a KindMalformed classification
	Reason string
}

// Expectation describes the positive response a request must receive
type Expectation struct {
	// Echo is the number of leading request parameter bytes the ECU repeats
	Echo int
	// Length is the exact positive payload length after the SID; 0 accepts any
	Length int
}

// Decode classifies a received frame against the in-flight request.
// request is the encoded request frame (SID first).
func Decode(request, frame []byte, expect Expectation) Response {
	if len(frame) == 0 || len(request) == 0 {
		return Response{Kind: KindUnrelated}
	}
	sid := request[0]

	switch frame[0] {
	case SIDNegativeResponse:
		if len(frame) >= 2 && frame[1] != sid {
			return Response{Kind: KindUnrelated}
		}
		if len(frame) != 3 {
			return Response{Kind: KindMalformed, Reason: fmt.Sprintf("negative response length %d, want 3", len(frame))}
		}
		code := NRC(frame[2])
		if code == NRCResponsePending {
			return Response{Kind: KindPending, Code: code}
		}
		return Response{Kind: KindNegative, Code: code}

	case PositiveSID(sid):
		data := frame[1:]
		if expect.Echo > 0 {
			params := request[1:]
			if expect.Echo > len(params) || len(data) < expect.Echo {
				return Response{Kind: KindMalformed, Reason: fmt.Sprintf("response shorter than %d echoed bytes", expect.Echo)}
			}
			for i := 0; i < expect.Echo; i++ {
				// a late reply to an earlier request for another identifier
				if data[i] != params[i] {
					return Response{Kind: KindUnrelated}
				}
			}
		}
		if expect.Length > 0 && len(data) != expect.Length {
			return Response{Kind: KindMalformed, Reason: fmt.Sprintf("response payload length %d, want %d", len(data), expect.Length)}
		}
		return Response{Kind: KindPositive, Data: data}
	}

	return Response{Kind: KindUnrelated}
}
