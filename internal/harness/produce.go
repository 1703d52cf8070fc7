// Package harness orchestrates the producer/consumer and sort scenarios the
// command-line front end exposes: constant-fill/sum, LCG/XOR-sum, and
// sortedness checking.
package harness

import (
	"encoding/binary"

	"vortex/internal/platform"
	"vortex/internal/report"
	"vortex/internal/stream"
)

const wordSize = 8 // bytes per u64 word

// reportStride is how many words a consumer processes between progress
// updates, 16 MiB worth.
const reportStride = 16 << 20 / wordSize

// ProduceConstant writes n little-endian u64 words, each equal to value,
// into vc's writer arena sequentially, then signals FinishedWrite.
func ProduceConstant(vc *stream.VortexC, n int, value uint64) {
	buf := vc.WriterBytes()
	var word [wordSize]byte
	binary.LittleEndian.PutUint64(word[:], value)
	for i := 0; i < n; i++ {
		off := i * wordSize
		copy(buf[off:off+wordSize], word[:])
	}
	vc.FinishedWrite()
}

// ConsumeSum reads n little-endian u64 words sequentially from vc's reader
// arena and returns their sum. rep, when non-nil, receives periodic progress
// updates.
func ConsumeSum(vc *stream.VortexC, n int, rep report.Reporter) uint64 {
	buf := vc.ReaderBytes()
	start := platform.Now()
	var sum uint64
	for i := 0; i < n; i++ {
		off := i * wordSize
		sum += binary.LittleEndian.Uint64(buf[off : off+wordSize])
		if rep != nil && (i+1)%reportStride == 0 {
			rep.Update(int64(i+1)*wordSize, int64(n)*wordSize, platform.Now().Sub(start))
		}
	}
	vc.FinishedRead()
	return sum
}

// lcgA and lcgC are the multiplier/increment of a 64-bit linear congruential
// generator, the classic Knuth MMIX constants, used for the LCG-fill
// producer scenario.
const (
	lcgA = 6364136223846793005
	lcgC = 1442695040888963407
)

// ProduceLCG writes n u64 words generated by a 64-bit LCG seeded with seed
// into vc's writer arena, then signals FinishedWrite.
func ProduceLCG(vc *stream.VortexC, n int, seed uint64) {
	buf := vc.WriterBytes()
	x := seed
	for i := 0; i < n; i++ {
		x = x*lcgA + lcgC
		off := i * wordSize
		binary.LittleEndian.PutUint64(buf[off:off+wordSize], x)
	}
	vc.FinishedWrite()
}

// ConsumeXOR reads n u64 words sequentially from vc's reader arena and
// returns their running XOR. rep, when non-nil, receives periodic progress
// updates.
func ConsumeXOR(vc *stream.VortexC, n int, rep report.Reporter) uint64 {
	buf := vc.ReaderBytes()
	start := platform.Now()
	var acc uint64
	for i := 0; i < n; i++ {
		off := i * wordSize
		acc ^= binary.LittleEndian.Uint64(buf[off : off+wordSize])
		if rep != nil && (i+1)%reportStride == 0 {
			rep.Update(int64(i+1)*wordSize, int64(n)*wordSize, platform.Now().Sub(start))
		}
	}
	vc.FinishedRead()
	return acc
}

// RunProducerConsumer drives a producer and consumer over a VortexC
// concurrently, one goroutine each, matching the one-producer/one-consumer
// concurrency model.
func RunProducerConsumer(produce func(), consume func() uint64) uint64 {
	resultCh := make(chan uint64, 1)
	go func() {
		resultCh <- consume()
	}()
	produce()
	return <-resultCh
}

// ConsumerChecker reports sortedness of a key sequence: how many adjacent
// pairs are out of order.
type ConsumerChecker struct {
	UnsortedPairs int
}

// Check scans keys and records how many adjacent pairs violate
// keys[i] <= keys[i+1].
func (c *ConsumerChecker) Check(keys []uint64) {
	c.UnsortedPairs = 0
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			c.UnsortedPairs++
		}
	}
}
