// Package vortexsort implements VortexSort, the MSD radix partitioner that
// is VortexS's principal client: it splits a stream of u64 keys into
// 2^bucketPower[0] buckets by their top bits, each bucket backed by a real
// VortexS sink, then drains each bucket into an in-memory key slice and
// recursively re-partitions it into freshly allocated sub-bucket slices until
// runs are small enough for a fixed small-set sort to finish.
package vortexsort

import (
	"encoding/binary"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"vortex/internal/pool"
	"vortex/internal/stream"
	"vortex/internal/streammgr"
)

// scratchLine is the write-combine buffer: one 64-byte cache line's worth of
// keys (8 uint64s) accumulated before being flushed to a bucket. The flush
// is a scalar copy; Go has no portable non-temporal store primitive.
type scratchLine struct {
	keys [8]uint64
	n    int
}

func (s *scratchLine) push(k uint64) bool {
	s.keys[s.n] = k
	s.n++
	return s.n == len(s.keys)
}

// flush copies the scratch line's keys into dst at byte offset off and
// resets the line. It returns the number of bytes written.
func (s *scratchLine) flush(dst []byte, off int) int {
	n := s.n
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(dst[off+i*8:], s.keys[i])
	}
	s.n = 0
	return n * 8
}

// smallSortThreshold is the residual-size cutoff at or below which recursion stops
// and the run is finished with a direct small-set sort (see sortSmall).
// directSortThreshold short-circuits whole inputs small enough that bucket
// partitioning would cost more than sorting outright; such inputs never touch
// the VortexS sinks at all.
const (
	smallSortThreshold  = 32
	directSortThreshold = 128
)

// KeyBits is the width, in bits, of the keys VortexSort partitions. Vortex
// sorts u64 keys throughout, so this is fixed at 64.
const KeyBits = 64

// Sorter holds a VortexSort run's state: the shared pool, the top-level
// bucket sinks, the per-level bit-width schedule, and the output pointer
// sorted runs are appended to.
type Sorter struct {
	mgr  *streammgr.Manager
	pool *pool.StreamPool

	schedule []int // bucketPower[0..]; sums to >= KeyBits
	buckets  []*stream.VortexS
	cursors  []int // current write offset (bytes) into each top-level bucket

	output []uint64 // flat output; sorted runs are appended here in MSD order
}

// bucketSchedule chooses bucketPower[0..] summing to at least keyBits, with
// bucketPower[0] <= 8 and the last level landing on 0 or 3 residual bits so
// recursion terminates into the small-set sort.
func bucketSchedule(keyBits int) []int {
	var sched []int
	remaining := keyBits
	first := 8
	if first > keyBits {
		first = keyBits
	}
	sched = append(sched, first)
	remaining -= first
	for remaining > 0 {
		step := 8
		if remaining <= 8 {
			if remaining == 8 || remaining == 3 {
				sched = append(sched, remaining)
				remaining = 0
				break
			}
			if remaining > 3 {
				sched = append(sched, remaining-3)
				remaining = 3
				continue
			}
			sched = append(sched, remaining)
			remaining = 0
			break
		}
		sched = append(sched, step)
		remaining -= step
	}
	return sched
}

// NewSorter creates a Sorter sized for a run of approximately byteSize bytes
// of u64 keys. It pre-sizes the shared StreamPool with the model
// bytesPerBucketL1 ~= byteSize/(bucketsL0*bucketsL1*1.05), padded by four
// blocks of slack, so the pool does not need to grow mid-sort.
func NewSorter(mgr *streammgr.Manager, blockSizePower int, byteSize int) (*Sorter, error) {
	schedule := bucketSchedule(KeyBits)
	bucketsL0 := 1 << uint(schedule[0])
	bucketsL1 := 1
	if len(schedule) > 1 {
		bucketsL1 = 1 << uint(schedule[1])
	}

	blockSize := 1 << uint(blockSizePower)
	p, err := pool.NewStreamPool(blockSize)
	if err != nil {
		return nil, err
	}

	bytesPerBucketL1 := float64(byteSize) / (float64(bucketsL0) * float64(bucketsL1) * 1.05)
	slackBlocks := 4
	pagesNeeded := int(bytesPerBucketL1)/p.BlockSize()*p.PagesPerBlock()*bucketsL0 + slackBlocks*p.PagesPerBlock()
	p.AdjustPoolPhysicalMemory(pagesNeeded)

	s := &Sorter{
		mgr:      mgr,
		pool:     p,
		schedule: schedule,
		buckets:  make([]*stream.VortexS, bucketsL0),
		cursors:  make([]int, bucketsL0),
	}

	// Each sink's virtual reservation covers the worst case — every key
	// landing in one bucket (all-equal inputs do exactly this). Reservation
	// is address space only; the model above sizes the physical pool.
	sinkSize := byteSize + slackBlocks*blockSize
	if sinkSize < blockSize {
		sinkSize = blockSize
	}
	for b := 0; b < bucketsL0; b++ {
		vs, err := stream.NewVortexS(mgr, p, sinkSize, b)
		if err != nil {
			return nil, fmt.Errorf("vortexsort: creating bucket %d sink: %w", b, err)
		}
		s.buckets[b] = vs
	}
	return s, nil
}

// Sort partitions keys into MSD order and returns the sorted slice. It
// drives the top-level split through real VortexS sinks (so pages are
// genuinely faulted in and out through the pool), then recurses on each
// bucket's in-memory bytes for deeper levels.
func (s *Sorter) Sort(keys []uint64) ([]uint64, error) {
	// Inputs this small are finished by the small-set leaf directly; no
	// bucket sink is ever touched.
	if len(keys) <= directSortThreshold {
		out := make([]uint64, len(keys))
		copy(out, keys)
		sortSmall(out)
		return out, nil
	}

	s.output = make([]uint64, 0, len(keys))

	topBits := s.schedule[0]
	shift := uint(KeyBits - topBits)
	lines := make([]scratchLine, len(s.buckets))

	for _, k := range keys {
		b := int(k >> shift)
		if lines[b].push(k) {
			vs := s.buckets[b]
			n := lines[b].flush(vs.Bytes()[s.cursors[b]:], 0)
			s.cursors[b] += n
		}
	}
	// Flush remaining partial lines.
	for b, vs := range s.buckets {
		if lines[b].n > 0 {
			n := lines[b].flush(vs.Bytes()[s.cursors[b]:], 0)
			s.cursors[b] += n
		}
	}

	for b, vs := range s.buckets {
		count := s.cursors[b] / 8
		if count == 0 {
			continue
		}
		// Drain the bucket one block at a time, returning each block's
		// frames to the pool as the read cursor passes it, so a bucket's
		// temporary footprint stays at the trailing-window bound no matter
		// how large it grew.
		bucketKeys := make([]uint64, count)
		buf := vs.Bytes()
		blockSize := s.pool.BlockSize()
		for off := 0; off < count*8; off += blockSize {
			end := off + blockSize
			if end > count*8 {
				end = count * 8
			}
			for i := off; i < end; i += 8 {
				bucketKeys[i/8] = binary.LittleEndian.Uint64(buf[i:])
			}
			if err := vs.ReleaseThrough(end); err != nil {
				return nil, fmt.Errorf("vortexsort: releasing drained blocks of bucket %d: %w", b, err)
			}
		}
		s.recurse(bucketKeys, 1, shift)
		if err := vs.Reset(); err != nil {
			log.WithError(err).WithField("bucket", b).Warn("vortexsort: resetting bucket sink")
		}
		s.cursors[b] = 0
	}

	return s.output, nil
}

// Pool exposes the sorter's shared StreamPool for post-run diagnostics
// (block counts, minimum-availability tracking).
func (s *Sorter) Pool() *pool.StreamPool { return s.pool }

// recurse re-partitions bucketKeys (all sharing the high bits consumed at
// shallower levels) by the next schedule[level] bits, terminating into
// sortSmall once the residual run is small or out of bits.
func (s *Sorter) recurse(keys []uint64, level int, consumedBits uint) {
	if len(keys) <= smallSortThreshold {
		sortSmall(keys)
		s.output = append(s.output, keys...)
		return
	}
	if level >= len(s.schedule) || consumedBits == 0 {
		// Residual bits exhausted: every key shares the full radix prefix,
		// so the run is all-equal and is emitted as is.
		s.output = append(s.output, keys...)
		return
	}

	bits := s.schedule[level]

	shift := consumedBits - uint(bits)
	numSub := 1 << uint(bits)
	subBuckets := make([][]uint64, numSub)
	mask := uint64(numSub - 1)
	for _, k := range keys {
		idx := (k >> shift) & mask
		subBuckets[idx] = append(subBuckets[idx], k)
	}
	for _, sub := range subBuckets {
		if len(sub) == 0 {
			continue
		}
		s.recurse(sub, level+1, shift)
	}
}

// sortSmall finishes a recursion leaf of at most smallSortThreshold keys, or
// a whole input of at most directSortThreshold keys. An unrolled
// compare-exchange network has no portable Go expression, so the leaf is
// sort.Slice.
func sortSmall(keys []uint64) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}

// Close tears down every bucket sink.
func (s *Sorter) Close() error {
	for _, vs := range s.buckets {
		if err := vs.Close(); err != nil {
			return err
		}
	}
	return nil
}
