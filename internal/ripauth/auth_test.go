package ripauth

import (
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gorip/internal/ripcodec"
)

func samplePacket() *ripcodec.Packet {
	return &ripcodec.Packet{
		Command: ripcodec.CommandResponse,
		Version: ripcodec.Version2,
		Entries: []ripcodec.RTE{
			{AFI: 2, Address: netip.MustParseAddr("10.0.0.0"), Mask: netip.MustParseAddr("255.0.0.0"), Metric: 1},
		},
	}
}

func TestPlaintextSignVerifyRoundTrip(t *testing.T) {
	a, err := New(SchemePlaintext)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	keys := StaticKeyChain{{ID: 1, Secret: []byte("swordfish")}}
	now := time.Now()

	pkt := samplePacket()
	buf := make([]byte, ripcodec.MaxPacketSize)

	n, err := a.Sign(keys, pkt, buf, nil, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var got ripcodec.Packet
	if err := ripcodec.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := a.Verify(keys, &got, buf, n, nil, now); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestPlaintextRejectsWrongPassword(t *testing.T) {
	a, err := New(SchemePlaintext)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	now := time.Now()
	signKeys := StaticKeyChain{{ID: 1, Secret: []byte("correct-horse")}}
	verifyKeys := StaticKeyChain{{ID: 1, Secret: []byte("wrong-password")}}

	pkt := samplePacket()
	buf := make([]byte, ripcodec.MaxPacketSize)

	n, err := a.Sign(signKeys, pkt, buf, nil, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var got ripcodec.Packet
	if err := ripcodec.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := a.Verify(verifyKeys, &got, buf, n, nil, now); err == nil {
		t.Fatal("expected password mismatch error")
	}
}

func TestHMACSchemesSignVerifyRoundTrip(t *testing.T) {
	schemes := []Scheme{
		SchemeKeyedMD5,
		SchemeHMACSHA1,
		SchemeHMACSHA224,
		SchemeHMACSHA256,
		SchemeHMACSHA384,
		SchemeHMACSHA512,
		SchemeHMACRIPEMD160,
		SchemeHMACWhirlpool,
	}

	for _, scheme := range schemes {
		t.Run(scheme.String(), func(t *testing.T) {
			a, err := New(scheme)
			if err != nil {
				t.Fatalf("new: %v", err)
			}

			keys := StaticKeyChain{{ID: 3, Secret: []byte("a shared secret")}}
			now := time.Now()

			signSeq := &SeqState{}
			pkt := samplePacket()
			buf := make([]byte, ripcodec.MaxPacketSize)

			n, err := a.Sign(keys, pkt, buf, signSeq, now)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}

			var got ripcodec.Packet
			if err := ripcodec.Unmarshal(buf[:n], &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}

			verifySeq := &SeqState{}
			if err := a.Verify(keys, &got, buf, n, verifySeq, now); err != nil {
				t.Fatalf("verify: %v", err)
			}

			if !verifySeq.RcvSeqKnown || verifySeq.RcvSeq != signSeq.XmitSeq {
				t.Errorf("sequence not tracked: got %+v, want xmit=%d", verifySeq, signSeq.XmitSeq)
			}
		})
	}
}

func TestHMACRejectsReplayedSequence(t *testing.T) {
	a, err := New(SchemeHMACSHA256)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	keys := StaticKeyChain{{ID: 1, Secret: []byte("secret")}}
	now := time.Now()
	signSeq := &SeqState{}
	verifySeq := &SeqState{}
	buf := make([]byte, ripcodec.MaxPacketSize)

	n, err := a.Sign(keys, samplePacket(), buf, signSeq, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	older := make([]byte, n)
	copy(older, buf[:n])

	n, err = a.Sign(keys, samplePacket(), buf, signSeq, now)
	if err != nil {
		t.Fatalf("sign second packet: %v", err)
	}

	var got ripcodec.Packet
	if err := ripcodec.Unmarshal(buf[:n], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := a.Verify(keys, &got, buf, n, verifySeq, now); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// Replay the earlier packet: its sequence number is below the last
	// accepted one.
	var replayed ripcodec.Packet
	if err := ripcodec.Unmarshal(older, &replayed); err != nil {
		t.Fatalf("unmarshal replayed packet: %v", err)
	}

	if err := a.Verify(keys, &replayed, older, len(older), verifySeq, now); err == nil {
		t.Fatal("expected replay to be rejected")
	}
}

func TestKeyChainRespectsValidityWindows(t *testing.T) {
	now := time.Now()

	keys := StaticKeyChain{
		{ID: 1, Secret: []byte("old"), SendBefore: now.Add(-time.Hour)},
		{ID: 2, Secret: []byte("new"), SendAfter: now.Add(-time.Minute)},
	}

	key, ok := keys.SendKey(now)
	if !ok {
		t.Fatal("expected a usable send key")
	}

	if key.ID != 2 {
		t.Errorf("expected key 2 to be selected, got %d", key.ID)
	}
}
