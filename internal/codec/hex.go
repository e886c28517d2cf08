package codec

import "encoding/hex"

// ToHex returns the lowercase hex encoding of b, used for ErrorRecord.Hex
// when a raw payload could not be decoded as UTF-8/JSON at all.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// ToBytes decodes a hex string back into bytes. An odd-length input is
// right-padded with a '0' nibble before decoding, matching spec.md §8
// scenario 8 ("54321" -> 0x54,0x32,0x10).
func ToBytes(s string) []byte {
	if len(s)%2 != 0 {
		s = s + "0"
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
