package pyramid

import "sync"

// abgrPoolKey identifies a pool by buffer byte length.
type abgrPoolKey struct{ n int }

// abgrPools maps buffer length -> *sync.Pool of []byte, so Frame slicing
// doesn't allocate a fresh ABGR buffer per tile. In practice only one or
// two distinct tile sizes exist per run, so the map stays tiny.
var abgrPools sync.Map

// getABGRBuffer returns a zeroed ABGR buffer of exactly n bytes, reused
// from the pool when one of that size is available.
func getABGRBuffer(n int) []byte {
	key := abgrPoolKey{n}
	if p, ok := abgrPools.Load(key); ok {
		if v := p.(*sync.Pool).Get(); v != nil {
			buf := v.([]byte)
			clear(buf)
			return buf
		}
	}
	return make([]byte, n)
}

// putABGRBuffer returns an ABGR buffer to the pool for reuse.
func putABGRBuffer(buf []byte) {
	if buf == nil {
		return
	}
	key := abgrPoolKey{len(buf)}
	p, _ := abgrPools.LoadOrStore(key, &sync.Pool{})
	p.(*sync.Pool).Put(buf)
}
