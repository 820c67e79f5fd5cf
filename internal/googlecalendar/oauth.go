package googlecalendar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CalendarScope grants read and write access to the practitioner's calendars.
const CalendarScope = "https://www.googleapis.com/auth/calendar"

var (
	// ErrNoRefreshToken indicates Google did not return an offline refresh token.
	ErrNoRefreshToken = errors.New("googlecalendar: no refresh token returned")

	errMissingClientCredentials = errors.New("googlecalendar: client id, secret and redirect url are required")
	errMissingCode              = errors.New("googlecalendar: authorization code is required")
)

// OAuthConfig carries the Google OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint overrides the Google endpoints, used by tests.
	Endpoint *oauth2.Endpoint
}

// Grant is the result of a successful authorization code exchange.
type Grant struct {
	RefreshToken string
	Scope        string
}

// OAuth wraps the Google OAuth client used for calendar access.
type OAuth struct {
	config *oauth2.Config
}

// NewOAuth constructs the Google OAuth client.
func NewOAuth(cfg OAuthConfig) (*OAuth, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" || strings.TrimSpace(cfg.RedirectURL) == "" {
		return nil, errMissingClientCredentials
	}
	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &OAuth{config: &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{CalendarScope},
		Endpoint:     endpoint,
	}}, nil
}

// AuthCodeURL returns the consent URL. Offline access with a forced consent prompt makes
// Google issue a refresh token even on reconnect.
func (o *OAuth) AuthCodeURL(state string) string {
	return o.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a refresh token.
func (o *OAuth) Exchange(ctx context.Context, code string) (Grant, error) {
	if strings.TrimSpace(code) == "" {
		return Grant{}, errMissingCode
	}
	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return Grant{}, fmt.Errorf("googlecalendar: exchange code: %w", err)
	}
	if token.RefreshToken == "" {
		return Grant{}, ErrNoRefreshToken
	}
	scope, _ := token.Extra("scope").(string)
	if scope == "" {
		scope = CalendarScope
	}
	return Grant{RefreshToken: token.RefreshToken, Scope: scope}, nil
}

// TokenSource returns a token source that refreshes access tokens from refreshToken.
func (o *OAuth) TokenSource(ctx context.Context, refreshToken string) oauth2.TokenSource {
	return o.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}
