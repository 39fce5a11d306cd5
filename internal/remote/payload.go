package remote

import "encoding/binary"

// encodeUint64s packs vs as a flat big-endian payload, used for every RPC's
// fixed-width argument/result list (addresses and sizes are always uint64 on
// the wire regardless of the local platform's uintptr width).
func encodeUint64s(vs ...uint64) []byte {
	buf := make([]byte, 8*len(vs))

	for i, v := range vs {
		binary.BigEndian.PutUint64(buf[i*8:], v)
	}

	return buf
}

// decodeUint64s unpacks exactly want uint64s from buf.
func decodeUint64s(buf []byte, want int) ([]uint64, bool) {
	if len(buf) != 8*want {
		return nil, false
	}

	out := make([]uint64, want)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(buf[i*8:])
	}

	return out, true
}

// encodeBytesPayload packs a leading ok flag byte followed by a byte slice, used for
// side_data and addresses that may legitimately be absent.
func encodeBytesPayload(b []byte, ok bool) []byte {
	flag := byte(0)
	if ok {
		flag = 1
	}

	return append([]byte{flag}, b...)
}

func decodeBytesPayload(buf []byte) ([]byte, bool) {
	if len(buf) == 0 {
		return nil, false
	}

	return buf[1:], buf[0] == 1
}
