package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>". The MAC covers
// "<t>.<body>" so a captured delivery cannot be replayed later with a new
// timestamp.
const SignatureHeader = "X-Signature"

var ErrBadSignature = errors.New("bad webhook signature")

func mac(secret string, ts int64, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}

// Sign returns the header value for body sent at ts.
func Sign(secret string, ts time.Time, body []byte) string {
	t := ts.Unix()
	return "t=" + strconv.FormatInt(t, 10) + ",v1=" + hex.EncodeToString(mac(secret, t, body))
}

// Verify checks a header produced by Sign. Signatures older or newer than
// tolerance relative to now are rejected; tolerance <= 0 skips the age check.
func Verify(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	var ts int64
	var sig []byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrap(ErrBadSignature, "timestamp")
			}
			ts = n
		case "v1":
			b, err := hex.DecodeString(v)
			if err != nil {
				return errors.Wrap(ErrBadSignature, "digest encoding")
			}
			sig = b
		}
	}
	if ts == 0 || sig == nil {
		return errors.Wrap(ErrBadSignature, "malformed header")
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return errors.Wrap(ErrBadSignature, "timestamp outside tolerance")
		}
	}
	if !hmac.Equal(mac(secret, ts, body), sig) {
		return errors.Wrap(ErrBadSignature, "digest mismatch")
	}
	return nil
}
