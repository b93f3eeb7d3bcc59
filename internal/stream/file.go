package stream

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// capturePrefix is the header written at the start of an Orbuculum-style
// capture file. When present it is consumed once, before the first byte
// is ever handed to the caller, so a replayed capture decodes identically
// to a live OFLOW stream.
const capturePrefix = "%%ORBFLOW1.0.0%%\n"

// FileSource replays a previously captured trace file. It never blocks:
// the timeout argument is accepted for interface compatibility but reads
// return immediately with whatever is available on disk.
type FileSource struct {
	f *os.File
	r *bufio.Reader
}

func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stream: open %s: %w", path, err)
	}
	r := bufio.NewReader(f)
	if err := skipCapturePrefix(r); err != nil {
		f.Close()
		return nil, err
	}
	return &FileSource{f: f, r: r}, nil
}

func skipCapturePrefix(r *bufio.Reader) error {
	peek, err := r.Peek(len(capturePrefix))
	if err != nil {
		// A file shorter than the prefix simply carries no prefix.
		return nil
	}
	if string(peek) == capturePrefix {
		_, err := r.Discard(len(capturePrefix))
		return err
	}
	return nil
}

func (fs *FileSource) Read(buf []byte, _ time.Duration) (int, Status, error) {
	n, err := fs.r.Read(buf)
	switch {
	case err == nil:
		return n, OK, nil
	case err == io.EOF:
		return n, EOF, nil
	default:
		return n, Error, err
	}
}

func (fs *FileSource) Close() error {
	err := fs.f.Close()
	// drop any buffered bytes so later reads fail on the closed file.
	fs.r.Reset(fs.f)
	return err
}

func isEOF(err error) bool {
	return err == io.EOF
}
