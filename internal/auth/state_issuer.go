package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultStateTTL      = 10 * time.Minute
	defaultStateIssuer   = "lume-api"
	defaultStateAudience = "google-calendar-connect"
)

var (
	ErrMissingStateSecret  = errors.New("state issuer: signing secret required")
	ErrMissingStateSubject = errors.New("state issuer: practitioner id required")
	ErrInvalidState        = errors.New("state issuer: invalid state")
)

// StateIssuerConfig configures the OAuth state signer.
type StateIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TTL           time.Duration
	Clock         func() time.Time
}

// StateIssuer signs the OAuth "state" parameter so the callback can be bound to the
// practitioner who started the connect flow.
type StateIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewStateIssuer constructs a StateIssuer with sane defaults.
func NewStateIssuer(cfg StateIssuerConfig) (*StateIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingStateSecret
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultStateIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultStateAudience
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StateIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		clock:    clock,
	}, nil
}

// IssueState returns a signed, short-lived state token for the practitioner.
func (i *StateIssuer) IssueState(practitionerID string) (string, error) {
	subject := strings.TrimSpace(practitionerID)
	if subject == "" {
		return "", ErrMissingStateSubject
	}

	now := i.clock().UTC()
	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    i.issuer,
		Audience:  []string{i.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(i.secret)
}

// ValidateState verifies a state token and returns the practitioner id it was issued for.
func (i *StateIssuer) ValidateState(state string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(state),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Subject == "" {
		return "", ErrMissingStateSubject
	}
	return claims.Subject, nil
}
