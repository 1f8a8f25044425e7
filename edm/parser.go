package edm

type parserState int

const (
	stateHead parserState = iota
	stateLengthHigh
	stateLengthLow
	statePayload
	stateTail
)

// Parser reassembles frames from an arbitrarily chunked byte stream.
// The zero value is ready to use. A Parser is not safe for concurrent use.
type Parser struct {
	state   parserState
	length  int
	payload []byte
}

// Feed consumes data and returns the events completed by it together with
// the bytes that were not part of any frame, in arrival order. Stray bytes
// are what a module that is not in EDM prints (plain AT responses).
//
// A frame with a bad length or tail is dropped and the parser resyncs on
// the next head byte.
func (p *Parser) Feed(data []byte) (events []Event, stray []byte) {
	for _, b := range data {
		switch p.state {
		case stateHead:
			if b == frameHead {
				p.state = stateLengthHigh
			} else {
				stray = append(stray, b)
			}

		case stateLengthHigh:
			p.length = int(b) << 8
			p.state = stateLengthLow

		case stateLengthLow:
			p.length = (p.length | int(b)) & lengthMask
			if p.length < 2 || p.length > MaxPayloadSize+2 {
				p.Reset()
				continue
			}
			p.payload = make([]byte, 0, p.length)
			p.state = statePayload

		case statePayload:
			p.payload = append(p.payload, b)
			if len(p.payload) == p.length {
				p.state = stateTail
			}

		case stateTail:
			if b == frameTail {
				if ev, ok := decodePayload(p.payload); ok {
					events = append(events, ev)
				}
			}
			p.Reset()
		}
	}
	return events, stray
}

// Reset discards any partially received frame.
func (p *Parser) Reset() {
	p.state = stateHead
	p.length = 0
	p.payload = nil
}
