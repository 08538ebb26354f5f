package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// maxLineBytes bounds one streamed envelope.
const maxLineBytes = 16 << 20

// Serve reads one envelope per line from r and writes one response per line
// to w until EOF, a quit/exit request, or ctx ends. Sessions stay warm
// across lines; the caller releases them with Close.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		req, err := parseLine(line)
		if err != nil {
			if err := encoder.Encode(d.rejected(err)); err != nil {
				return err
			}
			continue
		}

		switch req.Op {
		case "quit", "exit":
			return encoder.Encode(d.ack(req))
		case "ping":
			if err := encoder.Encode(d.ack(req)); err != nil {
				return err
			}
			continue
		}

		if err := encoder.Encode(d.Dispatch(ctx, req)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// DispatchRaw decodes one envelope and dispatches it. A malformed envelope
// yields an INVALID_INPUT response instead of an error.
func (d *Dispatcher) DispatchRaw(ctx context.Context, data []byte) ResponseEnvelope {
	req, err := ParseRequest(bytes.TrimSpace(data))
	if err != nil {
		return d.rejected(err)
	}
	return d.Dispatch(ctx, req)
}

// rejected answers an envelope that could not be decoded.
func (d *Dispatcher) rejected(err error) ResponseEnvelope {
	resp := ResponseEnvelope{SchemaVersion: SchemaVersion}
	resp.EffectiveRuntime, _ = d.resolve(RequestEnvelope{})
	resp.fail(err)
	return resp
}

// parseLine accepts an envelope or a bare sentinel word.
func parseLine(line []byte) (RequestEnvelope, error) {
	if word := strings.ToLower(string(line)); word == "ping" || word == "quit" || word == "exit" {
		return RequestEnvelope{SchemaVersion: SchemaVersion, Op: word}, nil
	}
	return ParseRequest(line)
}

// ack answers a sentinel without dispatching it.
func (d *Dispatcher) ack(req RequestEnvelope) ResponseEnvelope {
	start := time.Now()
	rt, _ := d.resolve(req)
	return ResponseEnvelope{
		SchemaVersion:    SchemaVersion,
		RequestID:        req.RequestID,
		Op:               req.Op,
		OK:               true,
		EffectiveRuntime: rt,
		DurationMs:       time.Since(start).Milliseconds(),
	}
}
