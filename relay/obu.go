package relay

// AV1 OBU types used when normalizing depacketized frames.
const (
	obuSequenceHeader     = 1
	obuTemporalDelimiter  = 2
	obuHasSizeFlag        = 0x02
	obuExtensionFlag      = 0x04
	temporalDelimiterByte = obuTemporalDelimiter<<3 | obuHasSizeFlag
)

func obuType(header byte) int {
	return int(header>>3) & 0x0F
}

// findSequenceHeader returns the first sequence header OBU in a stream of
// size-delimited OBUs, or nil.
func findSequenceHeader(data []byte) []byte {
	for off := 0; off < len(data); {
		header := data[off]
		if header&0x80 != 0 {
			return nil
		}
		hdrLen := 1
		if header&obuExtensionFlag != 0 {
			hdrLen = 2
		}
		if off+hdrLen > len(data) {
			return nil
		}
		if header&obuHasSizeFlag == 0 {
			if obuType(header) == obuSequenceHeader {
				return data[off:]
			}
			return nil
		}

		size, n := readLEB128(data[off+hdrLen:])
		if n == 0 {
			return nil
		}
		end := off + hdrLen + n + int(size)
		if end > len(data) {
			return nil
		}
		if obuType(header) == obuSequenceHeader {
			return data[off:end]
		}
		off = end
	}
	return nil
}

// withSizeField returns obu with obu_has_size_field set, adding the size.
func withSizeField(obu []byte) []byte {
	if len(obu) == 0 || obu[0]&obuHasSizeFlag != 0 {
		return obu
	}
	hdrLen := 1
	if obu[0]&obuExtensionFlag != 0 {
		hdrLen = 2
	}
	if len(obu) < hdrLen {
		return obu
	}

	out := make([]byte, 0, len(obu)+4)
	out = append(out, obu[0]|obuHasSizeFlag)
	out = append(out, obu[1:hdrLen]...)
	out = appendLEB128(out, uint64(len(obu)-hdrLen))
	return append(out, obu[hdrLen:]...)
}

func readLEB128(data []byte) (uint64, int) {
	var v uint64
	for i := 0; i < len(data) && i < 8; i++ {
		v |= uint64(data[i]&0x7F) << (i * 7)
		if data[i]&0x80 == 0 {
			return v, i + 1
		}
	}
	return 0, 0
}

func appendLEB128(b []byte, v uint64) []byte {
	for {
		c := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
