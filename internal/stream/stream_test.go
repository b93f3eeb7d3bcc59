package stream

import (
	"os"
	"testing"
	"time"
)

func TestFileSourceSkipsCapturePrefix(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "capture-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(capturePrefix + "hello"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := OpenFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	buf := make([]byte, 16)
	n, status, err := src.Read(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if status != OK {
		t.Fatalf("status = %v", status)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}
}

func TestFileSourceNoPrefix(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "capture-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("raw"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := OpenFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	buf := make([]byte, 16)
	n, _, err := src.Read(buf, 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "raw" {
		t.Fatalf("got %q, want %q", buf[:n], "raw")
	}
}

func TestFileSourceEOF(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "capture-*.bin")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	src, err := OpenFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	buf := make([]byte, 16)
	_, status, _ := src.Read(buf, time.Second)
	if status != EOF {
		t.Fatalf("status = %v, want EOF", status)
	}
}
