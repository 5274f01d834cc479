package wire

import (
	"unicode/utf8"

	"code.hybscloud.com/wlappidproxy/internal/bo"
)

// AppendUint32 appends a Wayland uint/int/object/new_id argument to buf.
func AppendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	bo.Native().PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// DecodeUint32 decodes a Wayland uint/int/object/new_id argument from the
// front of body, returning the remaining bytes.
func DecodeUint32(body []byte) (v uint32, rest []byte, err error) {
	if len(body) < 4 {
		return 0, nil, ErrShortArgument
	}
	return bo.Native().Uint32(body[:4]), body[4:], nil
}

// AppendString appends a Wayland string argument. A null string is encoded
// with a zero length and no bytes, matching what the protocol uses for
// optional string arguments the client/compositor left unset.
func AppendString(buf []byte, s string, isNull bool) []byte {
	if isNull {
		return AppendUint32(buf, 0)
	}
	n := uint32(len(s) + 1) // + NUL
	buf = AppendUint32(buf, n)
	buf = append(buf, s...)
	buf = append(buf, 0)
	for pad := padding(int(n)); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeString decodes a Wayland string argument from the front of body,
// returning the remaining bytes. A zero length denotes a null string.
func DecodeString(body []byte) (s string, isNull bool, rest []byte, err error) {
	n, rest, err := DecodeUint32(body)
	if err != nil {
		return "", false, nil, err
	}
	if n == 0 {
		return "", true, rest, nil
	}
	total := int(n) + padding(int(n))
	if len(rest) < total {
		return "", false, nil, ErrShortArgument
	}
	raw := rest[:n-1] // drop the trailing NUL
	if !utf8.Valid(raw) {
		return "", false, nil, ErrInvalidString
	}
	return string(raw), false, rest[total:], nil
}

// SkipArray skips a Wayland array argument (4-byte length followed by that
// many bytes, padded to 4), returning the remaining bytes. No opcode this
// proxy inspects carries an array argument today; this exists so adding one
// does not require extending the codec.
func SkipArray(body []byte) (rest []byte, err error) {
	n, rest, err := DecodeUint32(body)
	if err != nil {
		return nil, err
	}
	total := int(n) + padding(int(n))
	if len(rest) < total {
		return nil, ErrShortArgument
	}
	return rest[total:], nil
}

// SkipFixed skips a Wayland fixed-point argument (4 bytes), returning the
// remaining bytes.
func SkipFixed(body []byte) (rest []byte, err error) {
	_, rest, err = DecodeUint32(body)
	return rest, err
}

func padding(n int) int {
	return (4 - n%4) % 4
}
