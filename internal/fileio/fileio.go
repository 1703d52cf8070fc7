// Package fileio streams files into and out of a VortexC. It drives only
// the stream's public surface (the writer/reader buffers plus
// FinishedWrite/FinishedRead), block-size-chunked.
package fileio

import (
	"fmt"
	"io"
	"os"

	"vortex/internal/stream"
)

// WriteFileToStream streams the file at path into vc's writer arena in
// blockSize-sized chunks, then signals FinishedWrite.
func WriteFileToStream(vc *stream.VortexC, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("fileio: opening %s: %w", path, err)
	}
	defer f.Close()

	buf := vc.WriterBytes()
	blockSize := vc.GetBlockSize()
	var total int64
	for total < int64(len(buf)) {
		end := total + int64(blockSize)
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		n, err := io.ReadFull(f, buf[total:end])
		total += int64(n)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			vc.FinishedWrite()
			return total, fmt.Errorf("fileio: reading %s: %w", path, err)
		}
	}
	vc.FinishedWrite()
	return total, nil
}

// ReadStreamToFile streams n bytes from vc's reader arena into the file at
// path, creating or truncating it.
func ReadStreamToFile(vc *stream.VortexC, path string, n int64) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("fileio: creating %s: %w", path, err)
	}
	defer f.Close()

	buf := vc.ReaderBytes()
	if n > int64(len(buf)) {
		n = int64(len(buf))
	}
	blockSize := int64(vc.GetBlockSize())
	var written int64
	for written < n {
		end := written + blockSize
		if end > n {
			end = n
		}
		w, err := f.Write(buf[written:end])
		written += int64(w)
		if err != nil {
			vc.FinishedRead()
			return written, fmt.Errorf("fileio: writing %s: %w", path, err)
		}
	}
	vc.FinishedRead()
	return written, nil
}

// CopyFile streams src into vc's writer arena and vc's reader arena out to
// dst concurrently, the `c src dst` harness subcommand's contract.
func CopyFile(vc *stream.VortexC, src, dst string) (int64, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("fileio: stat %s: %w", src, err)
	}

	done := make(chan int64, 1)
	errCh := make(chan error, 1)
	go func() {
		n, err := ReadStreamToFile(vc, dst, fi.Size())
		done <- n
		errCh <- err
	}()

	if _, err := WriteFileToStream(vc, src); err != nil {
		return 0, err
	}
	n := <-done
	if err := <-errCh; err != nil {
		return n, err
	}
	return n, nil
}
