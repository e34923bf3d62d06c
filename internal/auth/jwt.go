package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

// JWTVerifier validates HS256 access tokens minted by the identity
// provider. Issuer and audience are enforced when configured.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	parser   *jwt.Parser
}

// JWTOptions configures token validation.
type JWTOptions struct {
	Secret   string
	Issuer   string
	Audience string
	// Leeway absorbs clock skew between us and the identity provider.
	// Defaults to 60s.
	Leeway time.Duration
}

type apiClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Plan  string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// NewJWTVerifier builds a verifier for HS256 tokens.
func NewJWTVerifier(opts JWTOptions) (*JWTVerifier, error) {
	if opts.Secret == "" {
		return nil, xerrors.New("auth: signing secret is required")
	}
	if opts.Leeway == 0 {
		opts.Leeway = 60 * time.Second
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	return &JWTVerifier{
		secret:   []byte(opts.Secret),
		issuer:   opts.Issuer,
		audience: opts.Audience,
		leeway:   opts.Leeway,
		parser:   jwt.NewParser(parserOpts...),
	}, nil
}

// Verify parses and validates tok, returning the user it identifies.
// All failure modes collapse to ErrUnauthorized so callers can't leak
// why a credential was rejected.
func (v *JWTVerifier) Verify(ctx context.Context, tok string) (*User, error) {
	if tok == "" {
		return nil, ErrUnauthorized
	}

	claims := &apiClaims{}
	parsed, err := v.parser.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, xerrors.Wrap(ErrUnauthorized, err.Error())
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}

	return &User{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  claims.Name,
		Plan:  claims.Plan,
	}, nil
}
