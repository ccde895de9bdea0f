package protocol

// CobsDecode decodes one COBS frame into dst and returns the decoded length.
// A single trailing delimiter, if present, terminates the chain. For a non-zero
// delimiter every encoded byte is XORed with it before decoding. Nothing is
// written to dst unless the whole frame decodes and fits.
func CobsDecode(dst, frame []byte, delim byte) (int, error) {
	if len(frame) > 0 && frame[len(frame)-1] == delim {
		frame = frame[:len(frame)-1]
	}

	n, err := cobsDecodedLen(frame, delim)
	if err != nil {
		return 0, err
	}
	if n > len(dst) {
		return 0, ErrOutputOverflow
	}

	out := 0
	for i := 0; i < len(frame); {
		code := frame[i] ^ delim
		i++
		count := int(code) - 1
		for j := 0; j < count; j++ {
			dst[out] = frame[i+j] ^ delim
			out++
		}
		i += count
		if code != 0xFF && i < len(frame) {
			dst[out] = 0x00
			out++
		}
	}
	return out, nil
}

// cobsDecodedLen validates the chain and computes the decoded length without writing.
func cobsDecodedLen(frame []byte, delim byte) (int, error) {
	n := 0
	for i := 0; i < len(frame); {
		code := frame[i] ^ delim
		if code == 0 {
			return 0, ErrCobsInvalidCode
		}
		i++

		count := int(code) - 1
		if i+count > len(frame) {
			return 0, ErrCobsTruncated
		}
		for _, b := range frame[i : i+count] {
			if b == delim {
				return 0, ErrCobsInvalidCode
			}
		}
		n += count
		i += count

		if code != 0xFF && i < len(frame) {
			n++
		}
	}
	return n, nil
}

// CobsEncode encodes payload and appends the trailing delimiter.
func CobsEncode(payload []byte, delim byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/254+2)
	codeIdx := len(out)
	out = append(out, 0)
	code := byte(1)

	for _, b := range payload {
		if b == 0 {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code

	if delim != 0 {
		for i := range out {
			out[i] ^= delim
		}
	}
	return append(out, delim)
}
