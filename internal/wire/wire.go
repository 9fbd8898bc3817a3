package wire

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

const (
	// PacketLen is the fixed size of every probe datagram.
	PacketLen = 32
	// Version is written into every packet; readers accept any value.
	Version = 1

	tagOffset = 28
)

// Magic identifies a LATTICE probe packet.
var Magic = [4]byte{'L', 'A', 'T', 'O'}

// Verdict is the result of validating a received datagram.
type Verdict int

const (
	Accept Verdict = iota
	RejectLength
	RejectMagic
	RejectTag
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectLength:
		return "reject-length"
	case RejectMagic:
		return "reject-magic"
	case RejectTag:
		return "reject-tag"
	default:
		return "unknown"
	}
}

// Encode builds a 32-byte authenticated probe packet:
// magic | version | sendNs | seq | nonce | tag32.
// The tag is the leading 32 bits of HMAC-SHA256 over the first 28 bytes.
func Encode(seq uint32, sendNs uint64, nonce uint64, secret []byte) [PacketLen]byte {
	var buf [PacketLen]byte
	copy(buf[0:4], Magic[:])
	binary.BigEndian.PutUint32(buf[4:8], Version)
	binary.BigEndian.PutUint64(buf[8:16], sendNs)
	binary.BigEndian.PutUint32(buf[16:20], seq)
	binary.BigEndian.PutUint64(buf[20:28], nonce)
	binary.BigEndian.PutUint32(buf[tagOffset:], Tag32(secret, buf[:tagOffset]))
	return buf
}

// Tag32 computes the truncated HMAC tag over msg.
func Tag32(secret, msg []byte) uint32 {
	mac := hmac.New(sha256.New, secret)
	mac.Write(msg)
	sum := mac.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// Validate checks length, magic and tag of a received datagram.
// The tag comparison is constant-time.
func Validate(buf []byte, secret []byte) Verdict {
	if len(buf) != PacketLen {
		return RejectLength
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return RejectMagic
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(buf[:tagOffset])
	sum := mac.Sum(nil)
	if !hmac.Equal(sum[:4], buf[tagOffset:]) {
		return RejectTag
	}
	return Accept
}

// SendNs extracts the send timestamp from an encoded packet.
func SendNs(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf[8:16])
}

// Seq extracts the sequence number from an encoded packet.
func Seq(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[16:20])
}

// Nonce extracts the nonce from an encoded packet.
func Nonce(buf []byte) uint64 {
	return binary.BigEndian.Uint64(buf[20:28])
}
