package pyramid

// rawCache holds a losslessly-compressed ABGR tile, kept alive only
// while at least one reader is registered, so a frame's decoded pixels
// can be reused by the next pyramid level's progressive downsample
// without holding every tile's pixels uncompressed in memory at once.
type rawCache struct {
	compressed []byte
	rawSize    int // decompressed byte length, for pre-sizing the inverse
	width      int
	height     int
}

// newRawCache losslessly compresses an ABGR buffer for retention.
func newRawCache(abgr []byte, width, height int) (*rawCache, error) {
	compressed, err := compressLossless(abgr)
	if err != nil {
		return nil, err
	}
	return &rawCache{
		compressed: compressed,
		rawSize:    len(abgr),
		width:      width,
		height:     height,
	}, nil
}

// decode reconstructs the original ABGR bytes.
func (c *rawCache) decode() ([]byte, error) {
	return decompressLossless(c.compressed, c.rawSize)
}
