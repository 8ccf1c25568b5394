// Command timevaultd hosts the vault engine behind Chrome-style native
// messaging framing: a 4-byte little-endian length prefix followed by a
// JSON payload, read from stdin and written to stdout. Every request and
// response is one frame; there is no persistent session state between
// frames.
package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Hussein-Mazeh/timevault/engine"
	"github.com/Hussein-Mazeh/timevault/facade"
)

const (
	bufferSize   = 1 << 16
	maxFrameSize = 1 << 20
)

func main() {
	reader := bufio.NewReaderSize(os.Stdin, bufferSize)
	writer := bufio.NewWriterSize(os.Stdout, bufferSize)

	for {
		payload, err := readFrame(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			fmt.Fprintf(os.Stderr, "timevaultd: read error: %v\n", err)
			return
		}

		resp := facade.Dispatch(context.Background(), engine.New, payload)

		if err := writeFrame(writer, resp); err != nil {
			fmt.Fprintf(os.Stderr, "timevaultd: write error: %v\n", err)
			return
		}
	}
}

// readFrame consumes one native-messaging frame from stdin.
func readFrame(r *bufio.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame emits resp using the same length-prefixed framing.
func writeFrame(w *bufio.Writer, resp facade.Response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(encoded)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	if _, err := w.Write(encoded); err != nil {
		return err
	}
	return w.Flush()
}
