// Package ripcodec implements the RIP v1/v2 wire format (RFC 1058, RFC 2453)
// and the RFC 2082/4822 authentication trailer carried in RIPv2 packets.
package ripcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// Protocol constants (RFC 1058 Section 3.1, RFC 2453 Section 4).
const (
	Version1 uint8 = 1
	Version2 uint8 = 2

	HeaderSize = 4  // command(1) + version(1) + reserved(2)
	RTESize    = 20 // every RTE, including auth RTEs, is 20 bytes on the wire

	MinPacketSize = HeaderSize + RTESize
	MaxRTEsPerPkt = 25 // RFC 2453 Section 4: 25 RTEs fit in a 512-byte UDP datagram

	// MaxPacketSize is the conventional RIP datagram ceiling (RFC 2453
	// Section 4). Examine() rejects larger packets unless called in
	// relaxed mode (see design note on oversized transports).
	MaxPacketSize = HeaderSize + MaxRTEsPerPkt*RTESize

	afiAuth    = 0xFFFF // RFC 2082 Section 2: marks an RTE as an authentication entry
	afiRequest = 0      // RFC 2453 Section 3.9.1: sole RTE family in a whole-table Request
)

// Command is the RIP packet command field (RFC 2453 Section 4).
type Command uint8

const (
	CommandRequest  Command = 1
	CommandResponse Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandRequest:
		return "request"
	case CommandResponse:
		return "response"
	default:
		return fmt.Sprintf("command(%d)", uint8(c))
	}
}

// AuthType is the RIPv2 authentication entry type (RFC 2453 Section 4.2,
// RFC 2082 Section 2).
type AuthType uint16

const (
	AuthTypeNone       AuthType = 0
	AuthTypeDigest     AuthType = 1 // marks the trailing digest RTE (RFC 2082)
	AuthTypePlaintext  AuthType = 2 // simple cleartext password (RFC 2453 Section 4.2)
	AuthTypeKeyedHash  AuthType = 3 // Keyed-MD5/HMAC header RTE (RFC 2082 Section 3, RFC 4822)
)

func (a AuthType) String() string {
	switch a {
	case AuthTypeNone:
		return "none"
	case AuthTypeDigest:
		return "digest"
	case AuthTypePlaintext:
		return "plaintext"
	case AuthTypeKeyedHash:
		return "keyed-hash"
	default:
		return fmt.Sprintf("authtype(%d)", uint16(a))
	}
}

// Sentinel errors. Examine and Unmarshal wrap one of these so callers can
// classify a malformed datagram without string matching.
var (
	ErrPacketTooShort     = errors.New("rip: packet shorter than header")
	ErrInvalidVersion     = errors.New("rip: unsupported version")
	ErrInvalidCommand     = errors.New("rip: unsupported command")
	ErrLengthNotAligned   = errors.New("rip: payload length not a multiple of RTE size")
	ErrTooManyEntries     = errors.New("rip: RTE count exceeds datagram limit")
	ErrPacketTooLarge     = errors.New("rip: packet exceeds maximum datagram size")
	ErrFamilyZeroMisplace = errors.New("rip: family-0 RTE outside a whole-table request")
	ErrAuthInV1           = errors.New("rip: authentication RTE present in a v1 packet")
	ErrAuthNotFirst       = errors.New("rip: authentication RTE must be the first entry")
	ErrAuthTrailerMissing = errors.New("rip: keyed-hash header present without a digest trailer")
	ErrBufTooSmall        = errors.New("rip: destination buffer too small")
	ErrZeroEntries        = errors.New("rip: response packet carries no route entries")
)

// RTE is one 20-byte Route Table Entry (RFC 2453 Section 4).
type RTE struct {
	AFI      uint16
	RouteTag uint16 // RIPv2 only; MUST be zero in v1 (RFC 2453 Section 4)
	Address  netip.Addr
	Mask     netip.Addr // RIPv2 only; zero-value (0.0.0.0) in v1
	NextHop  netip.Addr // RIPv2 only; zero-value means "via the sender"
	Metric   uint32     // 1-16 (RFC 2453 Section 3.8); 16 means unreachable
}

// AuthTrailer carries RIPv2 authentication (RFC 2453 Section 4.2, RFC 2082,
// RFC 4822). Exactly one of Plaintext or (KeyID/Digest) is populated,
// selected by Type.
type AuthTrailer struct {
	Type AuthType

	// Plaintext holds the cleartext password, left-justified and
	// zero-padded to 16 bytes (RFC 2453 Section 4.2). Only valid when
	// Type == AuthTypePlaintext.
	Plaintext [16]byte

	// The remaining fields apply to Type == AuthTypeKeyedHash
	// (RFC 2082 Section 3, RFC 4822 Section 3).
	KeyID          uint8
	SequenceNumber uint32

	// Digest is the trailing authentication data. Its length is
	// algorithm-dependent: 16 bytes for Keyed-MD5, and for the HMAC
	// family of RFC 4822 it may exceed the 16 bytes a single RTE
	// reserves for auth data — such a digest "bends" the RTE boundary
	// and runs on into the 20-byte slots after the trailer entry.
	Digest []byte

	// declaredDataLen is the Auth Data Len field read off the wire
	// (RFC 2082 Section 3); Unmarshal uses it to size Digest when it
	// reads the trailer. Marshal writes len(Digest) instead.
	declaredDataLen uint8
}

// Packet is a fully decoded RIP message (RFC 1058 Section 3.1, RFC 2453
// Section 4).
type Packet struct {
	Command Command
	Version uint8
	Entries []RTE
	Auth    *AuthTrailer // nil unless the packet carries RIPv2 authentication
}

// bufPool recycles marshal/unmarshal scratch buffers. RIP datagrams are
// capped at 512 bytes, so a single fixed-size slab serves every caller.
var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxPacketSize)
		return &b
	},
}

// AcquireBuffer returns a pooled MaxPacketSize-length byte slice. Callers
// must return it with ReleaseBuffer when done.
func AcquireBuffer() *[]byte {
	return bufPool.Get().(*[]byte) //nolint:forcetypeassert // pool only ever holds *[]byte
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	bufPool.Put(buf)
}

// Examine performs the header and structural validation described for
// inbound datagrams: length bounds, version/command legality, RTE
// alignment, and auth-entry placement. It does not authenticate the
// packet — that is internal/ripauth's job once Examine has passed.
//
// relaxed, when true, disables the MaxPacketSize ceiling so a transport
// that reassembles larger-than-512-byte datagrams (e.g. a TCP-fed test
// harness) can still be decoded.
func Examine(buf []byte, relaxed bool) error {
	if len(buf) < MinPacketSize {
		return fmt.Errorf("examine: %d bytes: %w", len(buf), ErrPacketTooShort)
	}

	if !relaxed && len(buf) > MaxPacketSize {
		return fmt.Errorf("examine: %d bytes: %w", len(buf), ErrPacketTooLarge)
	}

	version := buf[1]
	if version != Version1 && version != Version2 {
		return fmt.Errorf("examine: version %d: %w", version, ErrInvalidVersion)
	}

	command := Command(buf[0])
	if command != CommandRequest && command != CommandResponse {
		return fmt.Errorf("examine: command %d: %w", buf[0], ErrInvalidCommand)
	}

	payload := len(buf) - HeaderSize
	if payload%RTESize != 0 {
		return fmt.Errorf("examine: payload %d bytes: %w", payload, ErrLengthNotAligned)
	}

	count := payload / RTESize
	if !relaxed && count > MaxRTEsPerPkt {
		return fmt.Errorf("examine: %d entries: %w", count, ErrTooManyEntries)
	}

	if count == 0 {
		return fmt.Errorf("examine: %w", ErrZeroEntries)
	}

	firstAFI := binary.BigEndian.Uint16(buf[HeaderSize : HeaderSize+2])
	if firstAFI == afiAuth && version == Version1 {
		return fmt.Errorf("examine: %w", ErrAuthInV1)
	}

	return examineFamilyPlacement(buf, version, command, count)
}

// examineFamilyPlacement walks the RTEs checking that family-0 (request
// sentinel) and family-0xFFFF (auth) entries only appear where RFC 2453
// Section 3.9.1 and RFC 2082 Section 2 permit them, and that at most
// MaxRTEsPerPkt non-authentication entries are present.
func examineFamilyPlacement(buf []byte, version uint8, command Command, count int) error {
	entries := 0

	for i := range count {
		off := HeaderSize + i*RTESize
		afi := binary.BigEndian.Uint16(buf[off : off+2])

		switch afi {
		case afiRequest:
			if command != CommandRequest || count != 1 {
				return fmt.Errorf("examine: entry %d: %w", i, ErrFamilyZeroMisplace)
			}
		case afiAuth:
			if version == Version1 {
				return fmt.Errorf("examine: %w", ErrAuthInV1)
			}

			if i != 0 {
				// Past entry 0 only the digest trailer of a keyed-hash
				// header is allowed; it ends the packet, and an overlong
				// digest fills the slots after it.
				headerAFI := binary.BigEndian.Uint16(buf[HeaderSize : HeaderSize+2])
				headerType := AuthType(binary.BigEndian.Uint16(buf[HeaderSize+2 : HeaderSize+4]))
				entryType := AuthType(binary.BigEndian.Uint16(buf[off+2 : off+4]))

				if headerAFI != afiAuth || headerType != AuthTypeKeyedHash || entryType != AuthTypeDigest {
					return fmt.Errorf("examine: entry %d: %w", i, ErrAuthNotFirst)
				}

				return nil
			}

			continue
		}

		entries++
		if entries > MaxRTEsPerPkt {
			return fmt.Errorf("examine: %d entries: %w", entries, ErrTooManyEntries)
		}
	}

	return nil
}

// Unmarshal decodes buf into pkt, which is reset and repopulated. buf must
// already have passed Examine; Unmarshal re-derives the same structural
// facts while building the typed representation so the two stay in lock
// step (mirrors the decodeHeader/decodeBody split used elsewhere in this
// codebase for wire formats with an optional trailer section).
func Unmarshal(buf []byte, pkt *Packet) error {
	if err := Examine(buf, true); err != nil {
		return err
	}

	decodeHeader(buf, pkt)

	count := (len(buf) - HeaderSize) / RTESize
	pkt.Entries = pkt.Entries[:0]
	pkt.Auth = nil

walk:
	for i := range count {
		off := HeaderSize + i*RTESize
		raw := buf[off : off+RTESize]
		afi := binary.BigEndian.Uint16(raw[0:2])

		switch {
		case afi == afiAuth && i == 0:
			if err := decodeAuthHeader(raw, pkt); err != nil {
				return err
			}
		case afi == afiAuth:
			// The digest trailer ends the packet; its digest may run on
			// into the slots after it.
			if err := decodeAuthTrailer(buf[off:], pkt); err != nil {
				return err
			}

			break walk
		default:
			pkt.Entries = append(pkt.Entries, decodeRTE(raw))
		}
	}

	if pkt.Auth != nil && pkt.Auth.Type == AuthTypeKeyedHash && pkt.Auth.Digest == nil {
		return fmt.Errorf("unmarshal: %w", ErrAuthTrailerMissing)
	}

	return nil
}

func decodeHeader(buf []byte, pkt *Packet) {
	pkt.Command = Command(buf[0])
	pkt.Version = buf[1]
}

func decodeRTE(raw []byte) RTE {
	var rte RTE

	rte.AFI = binary.BigEndian.Uint16(raw[0:2])
	rte.RouteTag = binary.BigEndian.Uint16(raw[2:4])
	rte.Address = addrFromBytes(raw[4:8])
	rte.Mask = addrFromBytes(raw[8:12])
	rte.NextHop = addrFromBytes(raw[12:16])
	rte.Metric = binary.BigEndian.Uint32(raw[16:20])

	return rte
}

// decodeAuthHeader decodes the first RTE slot when it carries plaintext or
// keyed-hash authentication metadata (RFC 2453 Section 4.2, RFC 2082
// Section 3).
func decodeAuthHeader(raw []byte, pkt *Packet) error {
	authType := AuthType(binary.BigEndian.Uint16(raw[2:4]))

	trailer := &AuthTrailer{Type: authType}

	switch authType {
	case AuthTypePlaintext:
		copy(trailer.Plaintext[:], raw[4:20])
	case AuthTypeKeyedHash:
		// RFC 2082 Section 3 layout within the 20-byte entry:
		// AFI(2) Type(2) PacketLen(2) KeyID(1) AuthDataLen(1) Seq(4) Reserved(4) Reserved(4)
		trailer.KeyID = raw[8]
		trailer.declaredDataLen = raw[9]
		trailer.SequenceNumber = binary.BigEndian.Uint32(raw[10:14])
	default:
		return fmt.Errorf("unmarshal: auth header: %w", fmt.Errorf("unrecognized auth type %d", authType))
	}

	pkt.Auth = trailer

	return nil
}

// decodeAuthTrailer decodes the trailing digest RTE that follows a
// keyed-hash header (RFC 2082 Section 3). afi==0xFFFF, type==1, and the
// remaining 16 bytes (or more, for HMAC digests that overrun the RTE —
// see design notes on trailer bending) hold the digest.
func decodeAuthTrailer(raw []byte, pkt *Packet) error {
	if pkt.Auth == nil || pkt.Auth.Type != AuthTypeKeyedHash {
		return fmt.Errorf("unmarshal: digest trailer: %w", ErrAuthNotFirst)
	}

	n := int(pkt.Auth.declaredDataLen)
	if n == 0 || n > len(raw)-4 {
		n = len(raw) - 4
	}

	digest := make([]byte, n)
	copy(digest, raw[4:4+n])
	pkt.Auth.Digest = digest

	return nil
}

func addrFromBytes(b []byte) netip.Addr {
	return netip.AddrFrom4([4]byte{b[0], b[1], b[2], b[3]})
}

// Marshal serializes pkt into buf, returning the number of bytes written.
// It re-derives every length/count field from pkt rather than trusting
// stale state, so a mutated Packet always marshals consistently.
func Marshal(pkt *Packet, buf []byte) (int, error) {
	need := HeaderSize + len(pkt.Entries)*RTESize
	if pkt.Auth != nil {
		need += RTESize // header slot
		if pkt.Auth.Type == AuthTypeKeyedHash {
			need += authTrailerSize(pkt.Auth) // digest slot
		}
	}

	if len(buf) < need {
		return 0, fmt.Errorf("marshal: need %d, have %d: %w", need, len(buf), ErrBufTooSmall)
	}

	buf[0] = byte(pkt.Command)
	buf[1] = pkt.Version
	buf[2] = 0
	buf[3] = 0

	off := HeaderSize

	if pkt.Auth != nil {
		off += marshalAuthHeader(pkt.Auth, buf[off:])
	}

	for _, rte := range pkt.Entries {
		encodeRTE(rte, buf[off:off+RTESize])
		off += RTESize
	}

	if pkt.Auth != nil && pkt.Auth.Type == AuthTypeKeyedHash {
		// The header's packet length covers every byte ahead of the trailer.
		binary.BigEndian.PutUint16(buf[HeaderSize+4:HeaderSize+6], uint16(off)) //nolint:gosec // G115: off is bounded by the datagram-sized buf
		off += marshalAuthTrailer(pkt.Auth, buf[off:])
	}

	return off, nil
}

// authTrailerSize returns the wire length of the digest trailer entry,
// rounded up to the next RTESize multiple so overlong HMAC digests still
// occupy whole 20-byte slots (RFC 4822 Section 3.6 "bending" behavior).
func authTrailerSize(a *AuthTrailer) int {
	n := len(a.Digest) + 4 // AFI(2) + Type(2) + digest
	slots := (n + RTESize - 1) / RTESize

	return slots * RTESize
}

func marshalAuthHeader(a *AuthTrailer, dst []byte) int {
	binary.BigEndian.PutUint16(dst[0:2], afiAuth)
	binary.BigEndian.PutUint16(dst[2:4], uint16(a.Type))

	switch a.Type {
	case AuthTypePlaintext:
		copy(dst[4:20], a.Plaintext[:])
	case AuthTypeKeyedHash:
		packetLen := HeaderSize + RTESize // header only; Marshal sets the full length once the entries are written
		binary.BigEndian.PutUint16(dst[4:6], uint16(packetLen))
		dst[8] = a.KeyID
		dst[9] = uint8(len(a.Digest)) //nolint:gosec // G115: digest length bounded by hash output sizes, fits uint8
		binary.BigEndian.PutUint32(dst[10:14], a.SequenceNumber)
		clear(dst[14:20])
	}

	return RTESize
}

func marshalAuthTrailer(a *AuthTrailer, dst []byte) int {
	size := authTrailerSize(a)
	clear(dst[:size])
	binary.BigEndian.PutUint16(dst[0:2], afiAuth)
	binary.BigEndian.PutUint16(dst[2:4], uint16(AuthTypeDigest))
	copy(dst[4:], a.Digest)

	return size
}

func encodeRTE(rte RTE, dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], rte.AFI)
	binary.BigEndian.PutUint16(dst[2:4], rte.RouteTag)
	putAddr(dst[4:8], rte.Address)
	putAddr(dst[8:12], rte.Mask)
	putAddr(dst[12:16], rte.NextHop)
	binary.BigEndian.PutUint32(dst[16:20], rte.Metric)
}

func putAddr(dst []byte, addr netip.Addr) {
	if !addr.IsValid() {
		clear(dst)
		return
	}

	a4 := addr.As4()
	copy(dst, a4[:])
}
