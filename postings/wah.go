package postings

import "math/bits"

const (
	literalMask uint32 = 0x7FFFFFFF
	runFlag     uint32 = 0x80000000
	onesFlag    uint32 = 0x40000000
	maxRunLen   uint32 = 0x3FFFFFFF
)

// take31 reads the 31 bits starting at bit position pos, first bit highest.
func take31(raw []uint32, pos int) uint32 {
	w, off := pos/32, pos%32

	var v uint64
	if w < len(raw) {
		v = uint64(raw[w]) << 32
	}
	if w+1 < len(raw) {
		v |= uint64(raw[w+1])
	}
	return uint32(v>>(33-off)) & literalMask //nolint:gosec // G115: masked to 31 bits
}

// put31 ORs the 31-bit chunk into raw at bit position pos. Bits past the end
// of raw are group padding and dropped.
func put31(raw []uint32, pos int, chunk uint32) {
	w, off := pos/32, pos%32
	if w >= len(raw) {
		return
	}
	v := uint64(chunk&literalMask) << (33 - off)

	raw[w] |= uint32(v >> 32) //nolint:gosec // G115: upper half
	if lo := uint32(v); lo != 0 && w+1 < len(raw) { //nolint:gosec // G115: lower half
		raw[w+1] |= lo
	}
}

func compressWAH(raw []uint32) []uint32 {
	totalBits := len(raw) * 32
	out := make([]uint32, 0, len(raw)/4+1)

	var (
		runKind uint32
		runLen  uint32
	)
	flush := func() {
		if runLen > 0 {
			out = append(out, runFlag|runKind|runLen)
			runLen = 0
		}
	}

	for pos := 0; pos < totalBits; pos += 31 {
		chunk := take31(raw, pos)

		switch chunk {
		case 0, literalMask:
			kind := uint32(0)
			if chunk == literalMask {
				kind = onesFlag
			}
			if runLen > 0 && (runKind != kind || runLen == maxRunLen) {
				flush()
			}
			runKind = kind
			runLen++
		default:
			flush()
			out = append(out, chunk)
		}
	}
	flush()

	return out
}

// wahBits returns the number of bits a WAH stream expands to.
func wahBits(wah []uint32) int {
	n := 0
	for _, w := range wah {
		if w&runFlag == 0 {
			n += 31
		} else {
			n += int(w&maxRunLen) * 31
		}
	}
	return n
}

func decompressWAH(wah []uint32) []uint32 {
	raw := make([]uint32, wahBits(wah)/32)

	pos := 0
	for _, w := range wah {
		switch {
		case w&runFlag == 0:
			put31(raw, pos, w)
			pos += 31
		case w&onesFlag != 0:
			for range w & maxRunLen {
				put31(raw, pos, literalMask)
				pos += 31
			}
		default:
			pos += int(w&maxRunLen) * 31
		}
	}

	return raw
}

func countWAH(wah []uint32) int {
	n := 0
	for _, w := range wah {
		switch {
		case w&runFlag == 0:
			n += bits.OnesCount32(w)
		case w&onesFlag != 0:
			n += int(w&maxRunLen) * 31
		}
	}
	return n
}

func countRaw(raw []uint32) int {
	n := 0
	for _, w := range raw {
		n += bits.OnesCount32(w)
	}
	return n
}
