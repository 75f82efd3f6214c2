package protocol

import "encoding/binary"

// IDPrefixLen is the length of the publisher-id prefix every media datagram
// carries: video, audio, and screen frames all start with the publisher's
// client id as 4 bytes big-endian.
const IDPrefixLen = 4

// SplitDatagram reads the publisher id off a media datagram and returns the
// opaque payload that follows. ok is false when the datagram is too short to
// carry the prefix.
func SplitDatagram(p []byte) (publisherID uint32, payload []byte, ok bool) {
	if len(p) < IDPrefixLen {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(p), p[IDPrefixLen:], true
}

// AppendIDPrefix appends the 4-byte publisher-id prefix to dst.
func AppendIDPrefix(dst []byte, publisherID uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, publisherID)
}
