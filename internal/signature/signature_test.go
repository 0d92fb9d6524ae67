package signature

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var (
	secret  = []byte("whsec_test")
	payload = []byte(`{"event":"tenant.created","timestamp":1700000000,"data":{"tenant_id":"t1"}}`)
)

func TestSignVerifyRoundTrip(t *testing.T) {
	ts := int64(1700000000)
	header := Sign(secret, payload, ts)

	if err := Verify(secret, payload, header, DefaultTolerance, time.Unix(ts, 0)); err != nil {
		t.Fatalf("verify at signing time: %v", err)
	}
	// still inside the window
	if err := Verify(secret, payload, header, DefaultTolerance, time.Unix(ts+299, 0)); err != nil {
		t.Fatalf("verify inside tolerance: %v", err)
	}
}

func TestVerifyStale(t *testing.T) {
	ts := int64(1700000000)
	header := Sign(secret, payload, ts)

	for _, now := range []int64{ts + 301, ts - 301} {
		err := Verify(secret, payload, header, DefaultTolerance, time.Unix(now, 0))
		if !errors.Is(err, ErrStaleSignature) {
			t.Fatalf("now=%d: want ErrStaleSignature, got %v", now, err)
		}
	}
}

func TestVerifyBitFlip(t *testing.T) {
	ts := int64(1700000000)
	header := Sign(secret, payload, ts)
	now := time.Unix(ts, 0)

	// flip one hex nibble anywhere in the signature part
	i := strings.Index(header, "v1=") + 3
	for ; i < len(header); i++ {
		mutated := []byte(header)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		err := Verify(secret, payload, string(mutated), DefaultTolerance, now)
		if !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("flip at %d: want ErrInvalidSignature, got %v", i, err)
		}
	}
}

func TestVerifyWrongSecretAndPayload(t *testing.T) {
	ts := int64(1700000000)
	header := Sign(secret, payload, ts)
	now := time.Unix(ts, 0)

	if err := Verify([]byte("other"), payload, header, DefaultTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("wrong secret: want ErrInvalidSignature, got %v", err)
	}
	if err := Verify(secret, []byte(`{}`), header, DefaultTolerance, now); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered payload: want ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyZeroTimestampIsStaleNotMalformed(t *testing.T) {
	// t=0 is a well-formed (if ancient) timestamp
	header := Sign(secret, payload, 0)
	err := Verify(secret, payload, header, DefaultTolerance, time.Unix(1700000000, 0))
	if !errors.Is(err, ErrStaleSignature) {
		t.Fatalf("want ErrStaleSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cases := []string{
		"",
		"t=1700000000",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
		"garbage",
	}
	for _, h := range cases {
		err := Verify(secret, payload, h, DefaultTolerance, now)
		if !errors.Is(err, ErrMalformedSignature) {
			t.Fatalf("header %q: want ErrMalformedSignature, got %v", h, err)
		}
	}
}
