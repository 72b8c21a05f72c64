// ABOUTME: Line-delimited stdio transport for the dispatcher.
// ABOUTME: Reads one JSON-RPC request per line and writes one response per line, in order.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLineSize bounds a single stdio request line.
const maxLineSize = 4 << 20

type stdinLine struct {
	data    []byte
	tooLong bool
}

// ServeStdio processes requests from in until EOF or ctx is cancelled.
// Requests are handled strictly one at a time so responses keep request order.
func (d *Dispatcher) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan stdinLine)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		reader := bufio.NewReaderSize(in, 64*1024)
		for {
			line, err := readLine(reader, maxLineSize)
			if line.tooLong || len(line.data) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	d.logger.Info("serving MCP over stdio")

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("reading stdin: %w", err)
				default:
				}
				d.logger.Info("stdin closed, stopping")
				return nil
			}

			var resp *Response
			switch {
			case line.tooLong:
				d.logger.Warn("discarded oversize request line", "limit", maxLineSize)
				resp = errorResponse(nil, newError(ParseError, "request line too long"))
			case len(bytes.TrimSpace(line.data)) == 0:
				continue
			default:
				resp = d.Handle(ctx, line.data)
			}
			if resp == nil {
				continue
			}
			if err := d.writeLine(out, resp); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
		}
	}
}

// readLine reads up to the next newline. A line longer than limit is consumed
// and discarded, and reported with tooLong set.
func readLine(r *bufio.Reader, limit int) (stdinLine, error) {
	var line stdinLine
	for {
		chunk, err := r.ReadSlice('\n')
		if !line.tooLong {
			if len(line.data)+len(chunk) > limit+1 {
				line = stdinLine{tooLong: true}
			} else {
				line.data = append(line.data, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}
}

func (d *Dispatcher) writeLine(out io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.Error("failed to encode response", "error", err)
		data, _ = json.Marshal(errorResponse(resp.ID, newError(InternalError, nil)))
	}
	_, err = out.Write(append(data, '\n'))
	return err
}
