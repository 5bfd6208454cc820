// Package totp implements time-based one-time passwords for the second
// authentication factor. Codes are six digits over a 30-second step.
package totp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var ErrInvalidInput = errors.New("totp: invalid input")

const (
	// Period is the code step in seconds.
	Period = 30
	// DefaultWindow accepts codes from one step on either side of now,
	// absorbing clock drift between client and server.
	DefaultWindow = 1

	secretBytes = 32
)

// Codec computes and validates codes against shared secrets.
type Codec struct {
	window uint
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithWindow sets how many steps of drift are accepted on each side.
func WithWindow(n uint) CodecOption {
	return func(c *Codec) { c.window = n }
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec.
func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{window: DefaultWindow, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateSecret returns a fresh 256-bit shared secret in unpadded base32.
func GenerateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("totp: generating secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func validateOpts(skew uint) totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    Period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// ComputeCode returns the code for the secret at the codec's current time.
func (c *Codec) ComputeCode(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: secret is required", ErrInvalidInput)
	}
	code, err := totp.GenerateCodeCustom(secret, c.now(), validateOpts(0))
	if err != nil {
		return "", fmt.Errorf("totp: computing code: %w", err)
	}
	return code, nil
}

// ValidateCode reports whether the code matches the secret within the drift
// window. Malformed input reads as a mismatch, not an error.
func (c *Codec) ValidateCode(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, c.now(), validateOpts(c.window))
	return err == nil && ok
}

// RemainingSeconds returns how long the current code stays valid.
func (c *Codec) RemainingSeconds() int {
	return Period - int(c.now().UTC().Unix()%Period)
}
