// Package signature implements the signed webhook envelope header:
//
//	x-webhook-signature: t=<unix_ts>,v1=<hex hmac-sha256>
//
// The HMAC covers "<ts>." + body, binding the signature to a narrow
// time window so a captured request cannot be replayed after the
// tolerance expires.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const Header = "x-webhook-signature"

// DefaultTolerance is the replay window used by live receivers.
const DefaultTolerance = 5 * time.Minute

var (
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrStaleSignature     = errors.New("signature timestamp outside tolerance")
	ErrInvalidSignature   = errors.New("signature mismatch")
)

// Sign computes the signature header for payload at the given unix
// timestamp. Pure function; the caller supplies the timestamp (current
// time for live sends, a recorded one in tests).
func Sign(secret, payload []byte, ts int64) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, digest(secret, payload, ts))
}

// Verify checks a signature header against payload. now is injected so
// staleness is testable. Safe for concurrent use; no state.
func Verify(secret, payload []byte, header string, tolerance time.Duration, now time.Time) error {
	ts, sig, err := parseHeader(header)
	if err != nil {
		return err
	}

	age := now.Unix() - ts
	if age < 0 {
		age = -age
	}
	if age > int64(tolerance/time.Second) {
		return fmt.Errorf("%w: t=%d now=%d", ErrStaleSignature, ts, now.Unix())
	}

	expected := digest(secret, payload, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrInvalidSignature
	}

	return nil
}

func digest(secret, payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}

// parseHeader splits "t=<ts>,v1=<hex>". Both fields are required.
func parseHeader(header string) (ts int64, sig string, err error) {
	var hasTS bool
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err = strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("%w: bad timestamp", ErrMalformedSignature)
			}
			hasTS = true
		case "v1":
			sig = v
		}
	}

	if !hasTS || sig == "" {
		return 0, "", ErrMalformedSignature
	}

	return ts, sig, nil
}
