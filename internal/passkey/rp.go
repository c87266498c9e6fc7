package passkey

import (
	"errors"
	"net/url"
	"strings"
)

// RelyingParty identifies this service to authenticators.
type RelyingParty struct {
	ID          string
	Origin      string
	DisplayName string
}

// RPStrategy picks the relying party for a ceremony given the request's
// declared Origin header.
type RPStrategy interface {
	Resolve(declaredOrigin string) RelyingParty
}

// StaticRP always returns the configured relying party.
type StaticRP struct {
	RP RelyingParty
}

func (s StaticRP) Resolve(string) RelyingParty { return s.RP }

// HeaderDerivedRP trusts the request's declared https origin, which lets
// development tunnels work without reconfiguration. Other origins fall back
// to the configured relying party.
type HeaderDerivedRP struct {
	fallback RelyingParty
}

// ErrDynamicRPDisabled is returned when header-derived RP resolution is
// requested outside development mode.
var ErrDynamicRPDisabled = errors.New("passkey: header-derived relying party requires development mode")

func NewHeaderDerivedRP(fallback RelyingParty, devMode bool) (*HeaderDerivedRP, error) {
	if !devMode {
		return nil, ErrDynamicRPDisabled
	}
	return &HeaderDerivedRP{fallback: fallback}, nil
}

func (h *HeaderDerivedRP) Resolve(declaredOrigin string) RelyingParty {
	u, err := url.Parse(strings.TrimSpace(declaredOrigin))
	if err != nil || u.Scheme != "https" || u.Hostname() == "" {
		return h.fallback
	}
	return RelyingParty{
		ID:          u.Hostname(),
		Origin:      u.Scheme + "://" + u.Host,
		DisplayName: h.fallback.DisplayName,
	}
}

// NewRPStrategy returns a HeaderDerivedRP when dynamic is set and a StaticRP
// otherwise.
func NewRPStrategy(rp RelyingParty, dynamic, devMode bool) (RPStrategy, error) {
	if !dynamic {
		return StaticRP{RP: rp}, nil
	}
	return NewHeaderDerivedRP(rp, devMode)
}
