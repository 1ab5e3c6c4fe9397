// Package ripauth implements RIPv2 authentication: the cleartext scheme of
// RFC 2453 Section 4.2, Keyed-MD5 (RFC 2082), and the HMAC family added by
// RFC 4822. Key material rotates through a KeyChain so a session can carry
// several keys with overlapping accept/send validity windows.
package ripauth

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // G501: Keyed-MD5 is a spec-mandated scheme (RFC 2082)
	"crypto/sha1" //nolint:gosec // G505: HMAC-SHA1 is a spec-mandated scheme (RFC 4822)
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash"
	"time"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // SA1019: required algorithm, no replacement

	"github.com/jzelinskie/whirlpool"

	"github.com/dantte-lp/gorip/internal/ripcodec"
)

// Scheme selects the authentication method applied to outbound packets and
// required of inbound ones (RFC 2453 Section 4.2, RFC 2082, RFC 4822).
type Scheme uint8

const (
	SchemeNone Scheme = iota
	SchemePlaintext
	SchemeKeyedMD5
	SchemeHMACSHA1
	SchemeHMACSHA224
	SchemeHMACSHA256
	SchemeHMACSHA384
	SchemeHMACSHA512
	SchemeHMACRIPEMD160
	SchemeHMACWhirlpool
)

func (s Scheme) String() string {
	switch s {
	case SchemeNone:
		return "none"
	case SchemePlaintext:
		return "plaintext"
	case SchemeKeyedMD5:
		return "keyed-md5"
	case SchemeHMACSHA1:
		return "hmac-sha1"
	case SchemeHMACSHA224:
		return "hmac-sha224"
	case SchemeHMACSHA256:
		return "hmac-sha256"
	case SchemeHMACSHA384:
		return "hmac-sha384"
	case SchemeHMACSHA512:
		return "hmac-sha512"
	case SchemeHMACRIPEMD160:
		return "hmac-ripemd160"
	case SchemeHMACWhirlpool:
		return "hmac-whirlpool"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Sentinel errors for authentication failures.
var (
	ErrNoUsableKey       = errors.New("ripauth: no key valid for this time")
	ErrSchemeMismatch    = errors.New("ripauth: packet auth type does not match configured scheme")
	ErrPasswordMismatch  = errors.New("ripauth: cleartext password mismatch")
	ErrDigestMismatch    = errors.New("ripauth: computed digest does not match received digest")
	ErrSeqOutOfWindow    = errors.New("ripauth: sequence number outside acceptance window")
	ErrAuthMissing       = errors.New("ripauth: scheme requires an authentication trailer")
	ErrUnsupportedScheme = errors.New("ripauth: unsupported scheme")
)

// Key is one entry in a KeyChain (grounded on the RFC 2082 Key ID concept,
// extended with validity windows so keys can rotate without a flap).
type Key struct {
	ID     uint8
	Secret []byte

	// Zero time.Time values mean "unbounded" on that side of the window.
	AcceptAfter  time.Time
	AcceptBefore time.Time
	SendAfter    time.Time
	SendBefore   time.Time
}

func (k Key) acceptableAt(now time.Time) bool {
	if !k.AcceptAfter.IsZero() && now.Before(k.AcceptAfter) {
		return false
	}

	if !k.AcceptBefore.IsZero() && now.After(k.AcceptBefore) {
		return false
	}

	return true
}

func (k Key) sendableAt(now time.Time) bool {
	if !k.SendAfter.IsZero() && now.Before(k.SendAfter) {
		return false
	}

	if !k.SendBefore.IsZero() && now.After(k.SendBefore) {
		return false
	}

	return true
}

// KeyChain supplies the key material for a single interface's
// authentication. Implementations must be safe for concurrent use only if
// shared across dispatcher instances; the single-threaded event loop this
// package is designed for never calls it concurrently.
type KeyChain interface {
	// SendKey returns the key that signs the next outbound packet at the
	// given time: among the keys whose send window covers now, the one
	// whose window started most recently (an unbounded start counts as
	// earliest; ties go to the first configured).
	SendKey(now time.Time) (Key, bool)

	// AcceptKey returns the key identified by id if its accept window
	// covers now.
	AcceptKey(id uint8, now time.Time) (Key, bool)

	// AcceptableKeys returns every key whose accept window covers now,
	// in configured order. Plaintext authentication carries no key ID
	// on the wire, so verifying it means trying each accept-window key
	// in turn rather than looking one up by ID.
	AcceptableKeys(now time.Time) []Key
}

// StaticKeyChain is a KeyChain backed by a fixed slice, suitable for
// simple single-key or scheduled-rotation configurations.
type StaticKeyChain []Key

func (c StaticKeyChain) SendKey(now time.Time) (Key, bool) {
	var (
		best  Key
		found bool
	)

	for _, k := range c {
		if k.sendableAt(now) && (!found || k.SendAfter.After(best.SendAfter)) {
			best, found = k, true
		}
	}

	return best, found
}

func (c StaticKeyChain) AcceptKey(id uint8, now time.Time) (Key, bool) {
	for _, k := range c {
		if k.ID == id && k.acceptableAt(now) {
			return k, true
		}
	}

	return Key{}, false
}

func (c StaticKeyChain) AcceptableKeys(now time.Time) []Key {
	out := make([]Key, 0, len(c))

	for _, k := range c {
		if k.acceptableAt(now) {
			out = append(out, k)
		}
	}

	return out
}

// SeqState tracks the per-neighbor sequence number bookkeeping for the
// keyed-hash schemes (RFC 2082 Section 4): a monotonically increasing
// transmit counter and the last accepted receive value.
type SeqState struct {
	XmitSeq      uint32
	RcvSeq       uint32
	RcvSeqKnown  bool
}

// Authenticator signs outbound packets and verifies inbound ones for a
// single configured Scheme.
type Authenticator struct {
	scheme Scheme
	hp     hashParams
}

// New builds an Authenticator for scheme. It returns an error for an
// unrecognized scheme; SchemeNone and SchemePlaintext carry no hash
// parameters and always succeed.
func New(scheme Scheme) (*Authenticator, error) {
	if scheme == SchemeNone || scheme == SchemePlaintext {
		return &Authenticator{scheme: scheme}, nil
	}

	hp, err := hashParamsFor(scheme)
	if err != nil {
		return nil, err
	}

	return &Authenticator{scheme: scheme, hp: hp}, nil
}

// Scheme reports the configured authentication scheme.
func (a *Authenticator) Scheme() Scheme {
	return a.scheme
}

// TrailerSlots reports how many 20-byte RTE slots this scheme consumes
// beyond the route entries themselves, so UpdateEngine can size its
// per-packet chunking (RFC 2453 Section 4 caps a datagram at 25 RTEs
// total, authentication included).
func (a *Authenticator) TrailerSlots() int {
	switch a.scheme {
	case SchemeNone:
		return 0
	case SchemePlaintext:
		return 1
	default:
		digestSlots := (a.hp.digestSize + 4 + ripcodec.RTESize - 1) / ripcodec.RTESize

		return 1 + digestSlots
	}
}

// Sign populates pkt.Auth and re-marshals the packet into buf, returning
// the number of bytes written. now drives key-window selection.
func (a *Authenticator) Sign(keys KeyChain, pkt *ripcodec.Packet, buf []byte, seq *SeqState, now time.Time) (int, error) {
	switch a.scheme {
	case SchemeNone:
		pkt.Auth = nil
		return ripcodec.Marshal(pkt, buf)
	case SchemePlaintext:
		return a.signPlaintext(keys, pkt, buf, now)
	default:
		return a.signHash(keys, pkt, buf, seq, now)
	}
}

func (a *Authenticator) signPlaintext(keys KeyChain, pkt *ripcodec.Packet, buf []byte, now time.Time) (int, error) {
	key, ok := keys.SendKey(now)
	if !ok {
		return 0, ErrNoUsableKey
	}

	trailer := &ripcodec.AuthTrailer{Type: ripcodec.AuthTypePlaintext}
	copy(trailer.Plaintext[:], key.Secret)
	pkt.Auth = trailer

	return ripcodec.Marshal(pkt, buf)
}

// signHash implements the shared signing procedure for Keyed-MD5 and the
// HMAC family (RFC 2082 Section 3, RFC 4822 Section 3):
//  1. select the active send key;
//  2. advance and stamp the sequence number;
//  3. marshal the packet with a zero digest placeholder;
//  4. compute the digest over the marshaled bytes and splice it in.
func (a *Authenticator) signHash(keys KeyChain, pkt *ripcodec.Packet, buf []byte, seq *SeqState, now time.Time) (int, error) {
	key, ok := keys.SendKey(now)
	if !ok {
		return 0, ErrNoUsableKey
	}

	seq.XmitSeq++

	trailer := &ripcodec.AuthTrailer{
		Type:           ripcodec.AuthTypeKeyedHash,
		KeyID:          key.ID,
		SequenceNumber: seq.XmitSeq,
		Digest:         make([]byte, a.hp.digestSize),
	}
	pkt.Auth = trailer

	n, err := ripcodec.Marshal(pkt, buf)
	if err != nil {
		return 0, fmt.Errorf("sign: marshal: %w", err)
	}

	signedLen := n - trailerWireSize(len(trailer.Digest))
	digest := a.hp.compute(buf[:signedLen], key.Secret)
	trailer.Digest = digest

	// Re-marshal with the real digest now that its length is final.
	return ripcodec.Marshal(pkt, buf)
}

// trailerWireSize mirrors ripcodec's digest-trailer sizing (RFC 4822
// Section 3.6 "bending"): the digest plus its 4-byte AFI/type header,
// rounded up to a whole RTE slot.
func trailerWireSize(digestLen int) int {
	n := digestLen + 4
	slots := (n + ripcodec.RTESize - 1) / ripcodec.RTESize

	return slots * ripcodec.RTESize
}

// Verify checks an inbound packet's authentication. buf/n is the raw wire
// form as received, needed because hash schemes authenticate over the
// serialized bytes rather than the decoded struct.
func (a *Authenticator) Verify(keys KeyChain, pkt *ripcodec.Packet, buf []byte, n int, seq *SeqState, now time.Time) error {
	switch a.scheme {
	case SchemeNone:
		return nil
	case SchemePlaintext:
		return a.verifyPlaintext(keys, pkt, now)
	default:
		return a.verifyHash(keys, pkt, buf, n, seq, now)
	}
}

func (a *Authenticator) verifyPlaintext(keys KeyChain, pkt *ripcodec.Packet, now time.Time) error {
	if pkt.Auth == nil {
		return ErrAuthMissing
	}

	if pkt.Auth.Type != ripcodec.AuthTypePlaintext {
		return fmt.Errorf("verify: got %s: %w", pkt.Auth.Type, ErrSchemeMismatch)
	}

	candidates := keys.AcceptableKeys(now)
	if len(candidates) == 0 {
		return ErrNoUsableKey
	}

	for _, key := range candidates {
		var want [16]byte
		copy(want[:], key.Secret)

		if subtle.ConstantTimeCompare(pkt.Auth.Plaintext[:], want[:]) == 1 {
			return nil
		}
	}

	return ErrPasswordMismatch
}

func (a *Authenticator) verifyHash(keys KeyChain, pkt *ripcodec.Packet, buf []byte, n int, seq *SeqState, now time.Time) error {
	if pkt.Auth == nil || pkt.Auth.Type != ripcodec.AuthTypeKeyedHash {
		return ErrAuthMissing
	}

	key, ok := keys.AcceptKey(pkt.Auth.KeyID, now)
	if !ok {
		return fmt.Errorf("verify: key %d: %w", pkt.Auth.KeyID, ErrNoUsableKey)
	}

	if err := checkSeqWindow(seq, pkt.Auth.SequenceNumber); err != nil {
		return err
	}

	saved := pkt.Auth.Digest
	signedLen := n - trailerWireSize(len(saved))

	computed := a.hp.compute(buf[:signedLen], key.Secret)

	if subtle.ConstantTimeCompare(saved, computed) != 1 {
		return ErrDigestMismatch
	}

	seq.RcvSeq = pkt.Auth.SequenceNumber
	seq.RcvSeqKnown = true

	return nil
}

// checkSeqWindow enforces a non-decreasing sequence number once a first
// value has been observed: a value lower than the last accepted one is
// rejected and an equal value is accepted, mirroring the non-meticulous
// acceptance rule used for BFD's keyed hashes (RFC 2082 gives no window,
// only monotonicity).
func checkSeqWindow(seq *SeqState, got uint32) error {
	if !seq.RcvSeqKnown {
		return nil
	}

	if got < seq.RcvSeq {
		return fmt.Errorf("verify: seq %d < last accepted %d: %w", got, seq.RcvSeq, ErrSeqOutOfWindow)
	}

	return nil
}

// hashParams pairs a Scheme with its digest constructor and output size.
type hashParams struct {
	newHash    func() hash.Hash
	digestSize int
	keyed      bool // true for Keyed-MD5 (unkeyed MD5 with key appended), false for true HMAC
}

func hashParamsFor(scheme Scheme) (hashParams, error) {
	switch scheme {
	case SchemeKeyedMD5:
		return hashParams{newHash: md5.New, digestSize: md5.Size, keyed: true}, nil
	case SchemeHMACSHA1:
		return hashParams{newHash: sha1.New, digestSize: sha1.Size}, nil
	case SchemeHMACSHA224:
		return hashParams{newHash: sha256.New224, digestSize: sha256.Size224}, nil
	case SchemeHMACSHA256:
		return hashParams{newHash: sha256.New, digestSize: sha256.Size}, nil
	case SchemeHMACSHA384:
		return hashParams{newHash: sha512.New384, digestSize: sha512.Size384}, nil
	case SchemeHMACSHA512:
		return hashParams{newHash: sha512.New, digestSize: sha512.Size}, nil
	case SchemeHMACRIPEMD160:
		return hashParams{newHash: ripemd160.New, digestSize: ripemd160.Size}, nil
	case SchemeHMACWhirlpool:
		return hashParams{newHash: whirlpool.New, digestSize: whirlpool.Size}, nil
	default:
		return hashParams{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

// apadPattern is the repeating fill pattern HMAC schemes append to the
// signed region before hashing (RFC 2082 Section 4.2's authentication
// padding convention, carried forward for the RFC 4822 HMAC family).
var apadPattern = [4]byte{0x87, 0x8F, 0xE1, 0xF3}

// apad returns n bytes of apadPattern repeated to length.
func apad(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = apadPattern[i%len(apadPattern)]
	}

	return buf
}

// compute returns the digest over data (header, RTEs, and the auth
// header, but not the digest trailer itself) under secret. Keyed-MD5
// (RFC 2082 Section 4.2) hashes data followed by the key left-justified
// and zero-padded to 16 bytes; the HMAC family (RFC 4822) hashes data
// followed by Apad, keyed with secret.
func (p hashParams) compute(data, secret []byte) []byte {
	if p.keyed {
		var key [16]byte
		copy(key[:], secret)

		h := p.newHash()
		h.Write(data)
		h.Write(key[:])

		return h.Sum(nil)
	}

	mac := hmac.New(p.newHash, secret)
	mac.Write(data)
	mac.Write(apad(p.digestSize))

	return mac.Sum(nil)
}
