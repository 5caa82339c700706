// Package mempool recycles the float32 buffers that hold model inputs.
//
// Every sampled frame is letterboxed and normalized for the detector, and
// every dispatched crop is normalized again for the restorer and the
// recognizer. The buffers have a handful of recurring sizes, so they are
// pooled per size class instead of being left to the garbage collector.
package mempool

import (
	"math/bits"
	"sync"
)

// minClass is the smallest bucket handed out.
const minClass = 4096

var pools sync.Map // size class (int) -> *sync.Pool of *[]float32

// sizeClass rounds n up to the next power of two, but not below minClass.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	return 1 << bits.Len(uint(n-1))
}

func pool(cls int) *sync.Pool {
	if p, ok := pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]float32, cls)
		return &buf
	}})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Its contents are not zeroed.
// Hand it back with PutFloat32 once nothing reads it anymore.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return []float32{}
	}
	bp := pool(sizeClass(n)).Get().(*[]float32)
	return (*bp)[:n]
}

// PutFloat32 returns a buffer obtained from GetFloat32. Buffers of other
// origin whose capacity is not a size class are dropped. Nil is ignored.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c != sizeClass(c) {
		return
	}
	buf = buf[:c]
	pool(c).Put(&buf)
}
