package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sign(ts, body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const secret = "whsec_test"
	body := `{"event_id":"evt_1","reference":"ABCD2345","status":"approved"}`
	good := sign("1735725600", body, secret)

	cases := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"comma separated", "ts=1735725600,v1=" + good, secret, true},
		{"semicolon separated with t key", "t=1735725600; v1=" + good, secret, true},
		{"uppercase digest", "ts=1735725600,v1=" + strings.ToUpper(good), secret, true},
		{"second digest matches", "ts=1735725600,v1=deadbeef,v1=" + good, secret, true},
		{"wrong secret", "ts=1735725600,v1=" + good, "other", false},
		{"timestamp changed", "ts=1735725601,v1=" + good, secret, false},
		{"missing timestamp", "v1=" + good, secret, false},
		{"missing digest", "ts=1735725600", secret, false},
		{"not hex", "ts=1735725600,v1=zz", secret, false},
		{"empty header", "", secret, false},
		{"no secret configured", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifySignature([]byte(body), tc.header, tc.secret))
		})
	}
}

func TestSignPayload_RoundTrip(t *testing.T) {
	body := []byte(`{"event_id":"evt_9"}`)
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	header := SignPayload(body, "s3cret", at)

	assert.True(t, VerifySignature(body, header, "s3cret"))
	age, ok := signatureAge(header, at.Add(-2*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 2*time.Minute, age)
}

