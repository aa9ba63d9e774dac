// Package parser turns raw response bytes into an ordered event
// sequence: headers complete, zero or more body chunks, message
// complete. It is a push parser, fed incrementally as bytes arrive
// off the connection, and assumes exactly one response in flight at a
// time.
package parser

import (
	"bytes"
	"strconv"
	"strings"

	errs "github.com/crlx/h1pipe/internal/errors"
	"github.com/crlx/h1pipe/internal/model"
)

// maxLineLength bounds a single status, header or chunk-size line
// buffered across Feed calls.
const maxLineLength = 64 << 10

// Events receives parse events in order. Slices handed to callbacks
// are only valid for the duration of the call.
//
// OnHeadersComplete reports whether the message body must be skipped
// regardless of its framing headers, which is how a HEAD exchange
// announces itself. The return value is ignored for interim (1xx)
// responses, they never carry a body.
type Events interface {
	OnHeadersComplete(status int, header model.Fields) (skipBody bool)
	OnBodyChunk(chunk []byte)
	OnMessageComplete(trailer model.Fields)
}

type Parser struct {
	events Events
	state  state

	buf []byte // partial line carried across Feed calls

	status        int
	header        model.Fields
	trailer       model.Fields
	contentLength int64 // -1 until a content-length header is seen
	chunked       bool
	remaining     int64 // body or chunk bytes left to consume
}

func New(events Events) *Parser {
	return &Parser{
		events:        events,
		state:         stateStatusLine,
		contentLength: -1,
	}
}

// Reset discards all message state, including a dead parser, and
// expects a fresh status line.
func (p *Parser) Reset() {
	p.resetMessage()
}

func (p *Parser) resetMessage() {
	p.state = stateStatusLine
	p.buf = nil
	p.status = 0
	p.header = nil
	p.trailer = nil
	p.contentLength = -1
	p.chunked = false
	p.remaining = 0
}

// Feed consumes the next slice of connection bytes, emitting events as
// message boundaries are crossed. A returned error leaves the parser
// dead until Reset.
func (p *Parser) Feed(data []byte) error {
	if p.state == stateDead {
		return errs.ErrProtocol.With("parser reuse after failure")
	}
	for len(data) > 0 {
		switch p.state {
		case stateBody:
			n := p.remaining
			if int64(len(data)) < n {
				n = int64(len(data))
			}
			p.remaining -= n
			p.events.OnBodyChunk(data[:n])
			data = data[n:]
			if p.remaining == 0 {
				p.finish()
			}
		case stateChunkData:
			n := p.remaining
			if int64(len(data)) < n {
				n = int64(len(data))
			}
			p.remaining -= n
			p.events.OnBodyChunk(data[:n])
			data = data[n:]
			if p.remaining == 0 {
				p.state = stateChunkDataEnd
			}
		default:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				if len(p.buf)+len(data) > maxLineLength {
					return p.die("line exceeds buffer limit")
				}
				p.buf = append(p.buf, data...)
				return nil
			}
			line := data[:i]
			data = data[i+1:]
			if len(p.buf) > 0 {
				line = append(p.buf, line...)
				p.buf = nil
			}
			if err := p.processLine(bytes.TrimSuffix(line, []byte("\r"))); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Parser) processLine(line []byte) error {
	switch p.state {
	case stateStatusLine:
		return p.processStatusLine(line)
	case stateHeaders:
		if len(line) == 0 {
			return p.processHeadersEnd()
		}
		f, err := p.splitHeader(line)
		if err != nil {
			return err
		}
		p.header = append(p.header, f)
		return p.trackFraming(f)
	case stateChunkSize:
		return p.processChunkSize(line)
	case stateChunkDataEnd:
		if len(line) != 0 {
			return p.die("garbage after chunk data")
		}
		p.state = stateChunkSize
		return nil
	case stateTrailer:
		if len(line) == 0 {
			p.finish()
			return nil
		}
		f, err := p.splitHeader(line)
		if err != nil {
			return err
		}
		p.trailer = append(p.trailer, f)
		return nil
	}
	return p.die("unexpected parser state")
}

func (p *Parser) processStatusLine(line []byte) error {
	proto, rest, ok := bytes.Cut(line, []byte(" "))
	if !ok || !bytes.HasPrefix(proto, []byte("HTTP/1.")) {
		return p.die("malformed status line " + strconv.Quote(string(line)))
	}
	code, _, _ := bytes.Cut(rest, []byte(" "))
	status, err := strconv.Atoi(string(code))
	if err != nil || len(code) != 3 || status < 100 {
		return p.die("malformed status code " + strconv.Quote(string(code)))
	}
	p.status = status
	p.state = stateHeaders
	return nil
}

func (p *Parser) splitHeader(line []byte) (model.Field, error) {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return model.Field{}, p.die("malformed header line " + strconv.Quote(string(line)))
	}
	return model.Field{
		Name:  string(line[:i]),
		Value: string(bytes.TrimLeft(line[i+1:], " \t")),
	}, nil
}

func (p *Parser) trackFraming(f model.Field) error {
	switch {
	case strings.EqualFold(f.Name, "content-length"):
		n, err := strconv.ParseInt(f.Value, 10, 63)
		if err != nil || n < 0 {
			return p.die("invalid content-length " + strconv.Quote(f.Value))
		}
		// RFC 9112 §6.3: conflicting duplicates are unrecoverable
		if p.contentLength != -1 && p.contentLength != n {
			return p.die("conflicting content-length headers")
		}
		p.contentLength = n
	case strings.EqualFold(f.Name, "transfer-encoding"):
		p.chunked = strings.EqualFold(f.Value, "chunked")
	}
	return nil
}

func (p *Parser) processHeadersEnd() error {
	status, header := p.status, p.header
	if status < 200 {
		// interim response, the real one follows on the same exchange
		p.resetMessage()
		p.events.OnHeadersComplete(status, header)
		return nil
	}
	skip := p.events.OnHeadersComplete(status, header)
	switch {
	case skip || status == 204 || status == 304:
		p.finish()
	case p.chunked:
		p.state = stateChunkSize
	case p.contentLength > 0:
		p.remaining = p.contentLength
		p.state = stateBody
	default:
		// no framing means no body on a keep-alive channel
		p.finish()
	}
	return nil
}

func (p *Parser) processChunkSize(line []byte) error {
	// chunk extensions are tolerated and ignored
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseUint(string(bytes.TrimSpace(line)), 16, 32)
	if err != nil {
		return p.die("invalid chunk size " + strconv.Quote(string(line)))
	}
	if size == 0 {
		p.state = stateTrailer
		return nil
	}
	p.remaining = int64(size)
	p.state = stateChunkData
	return nil
}

func (p *Parser) finish() {
	trailer := p.trailer
	p.resetMessage()
	p.events.OnMessageComplete(trailer)
}

func (p *Parser) die(detail string) errs.ExchangeError {
	p.state = stateDead
	return errs.ErrProtocol.With(detail)
}
