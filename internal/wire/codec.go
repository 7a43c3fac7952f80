// Package wire encodes and decodes the UDP request frame the dispatcher
// sends to a backend, per spec.md §4.4/§6. All integers are network byte
// order (big-endian).
//
// Grounded on original_source/src/zeromq/op.hpp (req::serialize/
// deserialize) and engine.hpp's rsa_op, which builds the identical byte
// layout inline.
package wire

import (
	"encoding/binary"
	"fmt"
)

// FingerprintSize is the length in bytes of a key fingerprint (MD5 over
// n||e).
const FingerprintSize = 16

// MaxDatagramBytes is the largest UDP datagram either side of the
// protocol will send, per spec.md §6 — enough for a 4096-bit RSA
// operation plus framing.
const MaxDatagramBytes = 2048

// headerBytes is the fixed portion of a request: op(4) + fingerprint(16)
// + inner_len(4) + plaintext_len(4) + padding_mode(4).
const headerBytes = 4 + FingerprintSize + 4 + 4 + 4

// Op identifies the requested RSA operation.
type Op uint32

const (
	OpRSAPrivDec Op = 1
	OpRSAPrivEnc Op = 2
	OpRSAPubDec  Op = 3
	OpRSAPubEnc  Op = 4
)

// Padding identifies the OpenSSL-compatible padding mode. Values must
// match the OpenSSL constants per spec.md §6.
type Padding uint32

const (
	PaddingPKCS1  Padding = 1
	PaddingSSLv23 Padding = 2
	PaddingNone   Padding = 3
	PaddingOAEP   Padding = 4
	PaddingX931   Padding = 5
)

// Fingerprint is a 16-byte opaque key identifier, compared bytewise.
type Fingerprint [FingerprintSize]byte

// Request is a decoded dispatch-request frame.
type Request struct {
	Op          Op
	Fingerprint Fingerprint
	Padding     Padding
	Plaintext   []byte
}

// Encode produces the wire bytes for req, matching the fixed layout:
//
//	offset 0  : u32  op
//	offset 4  : [u8;16] fingerprint
//	offset 20 : u32  inner_len          = 8 + len(plaintext)
//	offset 24 : u32  plaintext_len
//	offset 28 : u32  padding_mode
//	offset 32 : plaintext bytes
func Encode(req Request) ([]byte, error) {
	total := headerBytes + len(req.Plaintext)
	if total > MaxDatagramBytes {
		return nil, fmt.Errorf("wire: encoded request %d bytes exceeds max datagram %d", total, MaxDatagramBytes)
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(req.Op))
	copy(buf[4:4+FingerprintSize], req.Fingerprint[:])
	innerLen := uint32(8 + len(req.Plaintext))
	binary.BigEndian.PutUint32(buf[20:24], innerLen)
	binary.BigEndian.PutUint32(buf[24:28], uint32(len(req.Plaintext)))
	binary.BigEndian.PutUint32(buf[28:32], uint32(req.Padding))
	copy(buf[32:], req.Plaintext)

	return buf, nil
}

// Decode parses the wire bytes produced by Encode. It validates that
// plaintext_len is internally consistent with the datagram length and
// with inner_len, rejecting truncated or malformed frames.
func Decode(buf []byte) (Request, error) {
	if len(buf) < headerBytes {
		return Request{}, fmt.Errorf("wire: frame too short: %d bytes, want at least %d", len(buf), headerBytes)
	}

	var req Request
	req.Op = Op(binary.BigEndian.Uint32(buf[0:4]))
	copy(req.Fingerprint[:], buf[4:4+FingerprintSize])

	innerLen := binary.BigEndian.Uint32(buf[20:24])
	plaintextLen := binary.BigEndian.Uint32(buf[24:28])
	req.Padding = Padding(binary.BigEndian.Uint32(buf[28:32]))

	if innerLen != 8+plaintextLen {
		return Request{}, fmt.Errorf("wire: inner_len %d inconsistent with plaintext_len %d", innerLen, plaintextLen)
	}
	if uint32(len(buf)-headerBytes) != plaintextLen {
		return Request{}, fmt.Errorf("wire: plaintext_len %d does not match frame: %d bytes available", plaintextLen, len(buf)-headerBytes)
	}

	req.Plaintext = append([]byte(nil), buf[headerBytes:]...)
	return req, nil
}
