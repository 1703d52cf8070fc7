// Package stream implements Vortex's two concrete Stream flavors: VortexC, a
// producer/consumer handoff channel over two cursor-linked arenas, and
// VortexS, a self-trailing append-only bucket used as an MSD radix sort
// sink.
package stream

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"vortex/internal/streammgr"
)

// Stream is re-exported so callers don't need to import streammgr just to
// name the interface their stream satisfies.
type Stream = streammgr.Stream

// blockIndex returns the block-size-aligned index a byte offset falls into,
// and the aligned fault address for that block given base.
func blockIndex(base uintptr, blockSize int, addr uintptr) (idx int, aligned uintptr) {
	off := addr - base
	idx = int(off) / blockSize
	aligned = base + uintptr(idx*blockSize)
	return idx, aligned
}

func logFault(stream, kind string, addr uintptr, write bool) {
	log.WithFields(log.Fields{
		"stream": stream,
		"kind":   kind,
		"addr":   fmt.Sprintf("%#x", addr),
		"write":  write,
	}).Trace("stream: fault")
}
