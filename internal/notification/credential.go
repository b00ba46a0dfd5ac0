package notification

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"
)

const (
	// DefaultCredentialLength is the length of issued temporary passwords.
	DefaultCredentialLength = 12
	// MinCredentialLength is the shortest length NewCredentialIssuer accepts.
	MinCredentialLength = 10

	credentialAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
		"abcdefghijklmnopqrstuvwxyz" +
		"0123456789" +
		"!@#$%&*?"

	// maxEntropyReads bounds the rejection loop against a reader that keeps
	// producing out-of-range bytes.
	maxEntropyReads = 64
)

// TemporaryCredential is a one-time password for a newly approved account.
// The secret must appear in exactly one message and is never stored.
type TemporaryCredential struct {
	Secret                 string    `json:"-"`
	IssuedFor              string    `json:"issued_for"`
	IssuedAt               time.Time `json:"issued_at"`
	MustChangeOnFirstLogin bool      `json:"must_change_on_first_login"`
}

// String redacts the secret.
func (c TemporaryCredential) String() string {
	return fmt.Sprintf("TemporaryCredential{for=%s issued=%s secret=[REDACTED]}",
		c.IssuedFor, c.IssuedAt.Format(time.RFC3339))
}

// LogValue redacts the secret when the credential is passed to slog.
func (c TemporaryCredential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("issued_for", c.IssuedFor),
		slog.Time("issued_at", c.IssuedAt),
		slog.String("secret", "[REDACTED]"),
	)
}

// CredentialIssuer generates temporary passwords from a cryptographically
// secure source.
type CredentialIssuer struct {
	random io.Reader
	length int
	now    func() time.Time
}

// IssuerOption configures a CredentialIssuer.
type IssuerOption func(*CredentialIssuer)

// WithRandomSource replaces crypto/rand.Reader. Intended for tests.
func WithRandomSource(r io.Reader) IssuerOption {
	return func(i *CredentialIssuer) { i.random = r }
}

// WithCredentialLength sets the password length.
func WithCredentialLength(n int) IssuerOption {
	return func(i *CredentialIssuer) { i.length = n }
}

// NewCredentialIssuer returns an issuer reading from crypto/rand by default.
func NewCredentialIssuer(opts ...IssuerOption) (*CredentialIssuer, error) {
	i := &CredentialIssuer{
		random: rand.Reader,
		length: DefaultCredentialLength,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.length < MinCredentialLength {
		return nil, fmt.Errorf("credential length %d is below the minimum of %d", i.length, MinCredentialLength)
	}
	return i, nil
}

// Issue generates a fresh credential for recipient. Failure to read the
// random source returns ErrEntropySourceUnavailable.
func (i *CredentialIssuer) Issue(recipient string) (TemporaryCredential, error) {
	secret, err := i.generate()
	if err != nil {
		return TemporaryCredential{}, err
	}
	return TemporaryCredential{
		Secret:                 secret,
		IssuedFor:              recipient,
		IssuedAt:               i.now().UTC(),
		MustChangeOnFirstLogin: true,
	}, nil
}

// generate draws characters with rejection sampling so that every alphabet
// symbol is equally likely.
func (i *CredentialIssuer) generate() (string, error) {
	n := len(credentialAlphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, i.length)
	buf := make([]byte, i.length*2)
	for reads := 0; len(out) < i.length; reads++ {
		if reads == maxEntropyReads {
			return "", fmt.Errorf("%w: too many rejected samples", ErrEntropySourceUnavailable)
		}
		if _, err := io.ReadFull(i.random, buf); err != nil {
			return "", fmt.Errorf("%w: %v", ErrEntropySourceUnavailable, err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, credentialAlphabet[int(b)%n])
			if len(out) == i.length {
				break
			}
		}
	}
	return string(out), nil
}
