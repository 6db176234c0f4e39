package pion

// G.711 mu-law at 8 kHz is what the audio track carries. Samples inside the
// call core are 24 kHz PCM16, so both directions also resample by a whole
// factor.

const (
	g711Rate = 8000

	ulawBias = 0x84
	ulawClip = 32635
)

func ulawEncode(s int16) byte {
	v := int(s)
	var sign int
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0f
	return ^byte(sign | exponent<<4 | mantissa)
}

func ulawDecode(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0f)
	v := ((mantissa << 3) + ulawBias) << exponent
	v -= ulawBias
	if u&0x80 != 0 {
		return int16(-v)
	}
	return int16(v)
}

// encodeULaw averages every factor samples and encodes the result. A tail
// shorter than factor is dropped.
func encodeULaw(samples []int16, factor int) []byte {
	out := make([]byte, len(samples)/factor)
	for i := range out {
		var sum int
		for _, s := range samples[i*factor : (i+1)*factor] {
			sum += int(s)
		}
		out[i] = ulawEncode(int16(sum / factor))
	}
	return out
}

// decodeULaw expands every byte into factor identical samples.
func decodeULaw(payload []byte, factor int) []int16 {
	out := make([]int16, 0, len(payload)*factor)
	for _, b := range payload {
		s := ulawDecode(b)
		for i := 0; i < factor; i++ {
			out = append(out, s)
		}
	}
	return out
}
