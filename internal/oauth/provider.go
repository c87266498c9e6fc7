package oauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Profile is the verified subset of ID token claims the service uses.
type Profile struct {
	Subject string
	Email   string
	Name    string
}

// Exchanger runs the provider side of the authorization-code flow.
type Exchanger interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Profile, error)
}

// ProviderConfig describes an OpenID Connect client registration.
type ProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// OIDCExchanger exchanges codes with an OpenID Connect provider and
// verifies the returned ID token.
type OIDCExchanger struct {
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCExchanger discovers the provider at cfg.IssuerURL.
func NewOIDCExchanger(ctx context.Context, cfg ProviderConfig) (*OIDCExchanger, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", cfg.IssuerURL, err)
	}
	return &OIDCExchanger{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (e *OIDCExchanger) AuthCodeURL(state string) string {
	return e.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (e *OIDCExchanger) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := e.config.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}
	raw, ok := token.Extra("id_token").(string)
	if !ok || raw == "" {
		return Profile{}, errors.New("token response carries no id_token")
	}
	idToken, err := e.verifier.Verify(ctx, raw)
	if err != nil {
		return Profile{}, fmt.Errorf("verify id_token: %w", err)
	}
	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Profile{}, fmt.Errorf("decode claims: %w", err)
	}
	return Profile{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}
