package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the provider signature.
const SignatureHeader = "X-Signature"

// signatureParts is a parsed signature header.  Digests holds every v1
// value so the provider can rotate secrets.
type signatureParts struct {
	Timestamp string
	Digests   []string
}

// parseSignatureHeader splits "ts=1700000000,v1=ab12..." into its
// parts.  Pairs may be separated by commas or semicolons and "t" is
// accepted for the timestamp key.
func parseSignatureHeader(header string) (signatureParts, bool) {
	var p signatureParts
	fields := strings.FieldsFunc(header, func(r rune) bool { return r == ',' || r == ';' })
	for _, f := range fields {
		k, v, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "ts", "t":
			p.Timestamp = v
		case "v1":
			if v != "" {
				p.Digests = append(p.Digests, v)
			}
		}
	}
	return p, p.Timestamp != "" && len(p.Digests) > 0
}

func computeDigest(ts string, body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// VerifySignature checks header against an HMAC-SHA256 of
// "<timestamp>.<body>" keyed with secret.  An empty secret disables
// verification and always succeeds.
func VerifySignature(raw []byte, header, secret string) bool {
	if secret == "" {
		return true
	}
	parts, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}
	want := computeDigest(parts.Timestamp, raw, secret)
	for _, d := range parts.Digests {
		got, err := hex.DecodeString(d)
		if err != nil {
			continue
		}
		if hmac.Equal(got, want) {
			return true
		}
	}
	return false
}

// SignPayload builds a header value VerifySignature accepts.  It is
// used by the CLI and tests to produce provider-style deliveries.
func SignPayload(raw []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "ts=" + ts + ",v1=" + hex.EncodeToString(computeDigest(ts, raw, secret))
}

// signatureAge returns how far the header timestamp lies from now.
func signatureAge(header string, now time.Time) (time.Duration, bool) {
	parts, ok := parseSignatureHeader(header)
	if !ok {
		return 0, false
	}
	sec, err := strconv.ParseInt(parts.Timestamp, 10, 64)
	if err != nil {
		return 0, false
	}
	d := now.Sub(time.Unix(sec, 0))
	if d < 0 {
		d = -d
	}
	return d, true
}
