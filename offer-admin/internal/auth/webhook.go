package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp = "X-CI-Timestamp"
	HeaderSignature = "X-CI-Signature"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// SignWebhook returns the signature the CI system sends for body: an
// HMAC-SHA256 over "ts\nMETHOD\nhex(sha256(body))", unpadded base64url.
func SignWebhook(secret, ts, method string, body []byte) (string, error) {
	mac, err := webhookMAC(secret, ts, method, body)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(mac), nil
}

// VerifyWebhook checks the timestamp is within maxSkew of now and the
// signature matches. A zero maxSkew disables the timestamp window.
func VerifyWebhook(secret, ts, method string, body []byte, signature string, now time.Time, maxSkew time.Duration) error {
	ts = strings.TrimSpace(ts)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	if maxSkew > 0 {
		at := time.Unix(sec, 0)
		if at.After(now.Add(maxSkew)) || at.Before(now.Add(-maxSkew)) {
			return fmt.Errorf("%w: timestamp outside allowed skew", ErrBadSignature)
		}
	}
	expected, err := webhookMAC(secret, ts, method, body)
	if err != nil {
		return err
	}
	got, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrBadSignature)
	}
	if !hmac.Equal(expected, got) {
		return ErrBadSignature
	}
	return nil
}

func webhookMAC(secret, ts, method string, body []byte) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	sum := sha256.Sum256(body)
	msg := strings.Join([]string{
		strings.TrimSpace(ts),
		strings.ToUpper(strings.TrimSpace(method)),
		hex.EncodeToString(sum[:]),
	}, "\n")
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(msg))
	return m.Sum(nil), nil
}
