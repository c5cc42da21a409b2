package qstash

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SignatureHeader = "Upstash-Signature"

	issuer = "Upstash"
)

var (
	ErrMissingSignature = errors.New("qstash signature is missing")
	ErrInvalidSignature = errors.New("qstash signature is invalid")
)

type Config struct {
	CurrentSigningKey string        `split_words:"true" required:"true"`
	NextSigningKey    string        `split_words:"true" required:"true"`
	ClockTolerance    time.Duration `split_words:"true" default:"5s"`
}

// Verifier checks webhook deliveries signed by QStash. Deliveries are signed
// with the current key and, during rotation, with the next one.
type Verifier struct {
	currentSigningKey string
	nextSigningKey    string
	tolerance         time.Duration
	now               func() time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

func NewVerifier(cfg Config) (*Verifier, error) {
	current := strings.TrimSpace(cfg.CurrentSigningKey)
	next := strings.TrimSpace(cfg.NextSigningKey)
	if current == "" && next == "" {
		return nil, errors.New("qstash signing key is required")
	}

	return &Verifier{
		currentSigningKey: current,
		nextSigningKey:    next,
		tolerance:         cfg.ClockTolerance,
		now:               time.Now,
	}, nil
}

func MustNewVerifier(cfg Config) *Verifier {
	v, err := NewVerifier(cfg)
	if err != nil {
		panic(err)
	}
	return v
}

// Verify validates signature against body. url, when non-empty, must match
// the token subject.
func (v *Verifier) Verify(signature string, body []byte, url string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}

	var lastErr error
	for _, key := range []string{v.currentSigningKey, v.nextSigningKey} {
		if key == "" {
			continue
		}
		if err := v.verifyWithKey(signature, body, url, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (v *Verifier) verifyWithKey(token string, body []byte, url string, key string) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithLeeway(v.tolerance),
		jwt.WithTimeFunc(v.now),
	}
	if url != "" {
		opts = append(opts, jwt.WithSubject(url))
	}

	var c claims
	if _, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(key), nil
	}, opts...); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	sum := sha256.Sum256(body)
	bodyHash := base64.RawURLEncoding.EncodeToString(sum[:])
	if strings.TrimRight(c.Body, "=") != bodyHash {
		return fmt.Errorf("%w: body hash mismatch", ErrInvalidSignature)
	}

	return nil
}
