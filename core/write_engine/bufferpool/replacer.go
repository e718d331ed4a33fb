package bufferpool

// Replacer picks the frame to evict next.
type Replacer interface {
	// PickVictim returns an evictable frame index, or false when every
	// frame is pinned.
	PickVictim() (int, bool)
}

// ClockReplacer is a second-chance clock over the frame descriptors. The
// hand persists across calls and advances after every frame it inspects.
type ClockReplacer struct {
	frames []*FrameDescriptor
	hand   int
}

func NewClockReplacer(frames []*FrameDescriptor) *ClockReplacer {
	return &ClockReplacer{frames: frames}
}

// PickVictim sweeps at most two laps. An invalid frame wins immediately. A
// valid unpinned frame with its ref bit set loses the bit and survives this
// pass; one without the bit is the victim. Pinned frames are skipped. The
// second lap gives frames whose bit was cleared on the first lap a chance to
// be chosen.
func (c *ClockReplacer) PickVictim() (int, bool) {
	n := len(c.frames)
	for step := 0; step < 2*n; step++ {
		idx := c.hand
		c.hand = (c.hand + 1) % n

		f := c.frames[idx]
		switch {
		case !f.valid:
			return idx, true
		case f.pinCount > 0:
			continue
		case f.refBit:
			f.refBit = false
		default:
			return idx, true
		}
	}
	return -1, false
}
