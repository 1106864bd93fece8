// Package stdio implements the Line Transport (spec §4.3): newline-
// delimited JSON-RPC frames over stdin/stdout for a single process-wide
// session. Grounded on the scanner/channel cancelation pattern in
// other_examples' houzhh15-mote stdio transport, generalized from a
// byte-slice Send/Receive pair to direct dispatch into the protocol
// engine, and on the teacher's cmd/contextd/stdio.go convention of
// reserving stdout for the protocol stream and stderr for diagnostics.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/mcpsession"
	"github.com/fyrsmithlabs/corpusmcp/internal/protocol"
	"go.uber.org/zap"
)

// sessionID is the fixed, well-known session identifier every stdio
// process uses: there is exactly one session for the process lifetime,
// so a stable name is more useful in logs than a random UUID.
const sessionID = "stdio"

const (
	initialBufferBytes = 64 * 1024
	maxFrameBytes      = 4 << 20 // 4 MiB (spec §4.3)
)

// Transport runs the line-framed protocol loop over a pair of byte
// streams, normally os.Stdin and os.Stdout.
type Transport struct {
	engine   *protocol.Engine
	sessions *mcpsession.Manager
	log      *logging.Logger

	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
}

// New constructs a Transport reading frames from in and writing
// responses to out.
func New(engine *protocol.Engine, sessions *mcpsession.Manager, in io.Reader, out io.Writer, log *logging.Logger) *Transport {
	return &Transport{engine: engine, sessions: sessions, in: in, out: out, log: log}
}

// Run reads one JSON-RPC frame per line until in reaches EOF or ctx is
// canceled, dispatching each to the protocol engine and writing any
// response back as its own line. It returns nil on a clean EOF (the
// client closed its side) and a non-nil error for anything else,
// including ctx.Err() on cancellation.
//
// A line exceeding maxFrameBytes (spec §4.3) does not end the session:
// readFrame discards it and reports oversized=true, and the offending
// frame is replaced with a parse-error response before the loop moves
// on to the next line. This is the reason reading is driven by a raw
// bufio.Reader rather than bufio.Scanner — Scanner treats an oversized
// token (bufio.ErrTooLong) as terminal and cannot resume.
func (t *Transport) Run(ctx context.Context) error {
	sess, err := t.sessions.CreateWithID(sessionID)
	if err != nil {
		return fmt.Errorf("stdio: creating session: %w", err)
	}
	defer t.sessions.Delete(sess.ID)

	fr := &frameReader{r: bufio.NewReaderSize(t.in, initialBufferBytes), maxBytes: maxFrameBytes}

	type line struct {
		data      []byte
		oversized bool
		err       error
	}
	lines := make(chan line)
	go func() {
		defer close(lines)
		for {
			data, oversized, ok, err := fr.readFrame()
			if err != nil {
				select {
				case lines <- line{err: err}:
				case <-ctx.Done():
				}
				return
			}
			if !ok {
				return
			}
			select {
			case lines <- line{data: data, oversized: oversized}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			if l.err != nil {
				return fmt.Errorf("stdio: reading frame: %w", l.err)
			}
			if l.oversized {
				resp := protocol.NewError(nil, protocol.ErrCodeParseError, "parse error",
					map[string]string{"details": "frame exceeds maximum size"})
				if err := t.writeResponse(&resp); err != nil {
					return err
				}
				continue
			}
			if len(l.data) == 0 {
				continue
			}
			if err := t.handleFrame(ctx, sess, l.data); err != nil {
				return err
			}
		}
	}
}

// frameReader splits a byte stream into newline-delimited frames
// without bufio.Scanner's all-or-nothing token-size limit: an
// oversized frame is discarded (oversized=true, data=nil) rather than
// turning into a terminal error, and reading resumes at the next line.
type frameReader struct {
	r        *bufio.Reader
	maxBytes int
}

// readFrame returns the next frame. ok is false only once, on a clean
// EOF with no pending data — same contract bufio.Scanner.Scan() has via
// its return value paired with Err(). A non-nil err is reserved for
// genuine I/O failures on the underlying reader.
func (fr *frameReader) readFrame() (data []byte, oversized bool, ok bool, err error) {
	var buf []byte
	for {
		chunk, rerr := fr.r.ReadSlice('\n')
		if rerr != nil && rerr != bufio.ErrBufferFull && rerr != io.EOF {
			return nil, false, false, rerr
		}

		if !oversized {
			if len(buf)+len(chunk) > fr.maxBytes {
				oversized = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch rerr {
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(buf) == 0 && !oversized {
				return nil, false, false, nil
			}
			if oversized {
				return nil, true, true, nil
			}
			return bytes.TrimRight(buf, "\r\n"), false, true, nil
		default: // newline found
			if oversized {
				return nil, true, true, nil
			}
			return bytes.TrimRight(buf, "\r\n"), false, true, nil
		}
	}
}

func (t *Transport) handleFrame(ctx context.Context, sess *protocol.Session, raw []byte) error {
	var req protocol.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := protocol.NewError(nil, protocol.ErrCodeParseError, "parse error", map[string]string{"details": err.Error()})
		return t.writeResponse(&resp)
	}

	resp := t.engine.Handle(ctx, sess, req)
	if resp == nil {
		return nil
	}
	return t.writeResponse(resp)
}

func (t *Transport) writeResponse(resp *protocol.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		if t.log != nil {
			t.log.Error(context.Background(), "stdio: marshaling response", zap.Error(err))
		}
		return fmt.Errorf("stdio: marshaling response: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.out.Write(data); err != nil {
		return fmt.Errorf("stdio: writing response: %w", err)
	}
	if _, err := t.out.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("stdio: writing response: %w", err)
	}
	return nil
}
