package model

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a logical model name does not resolve to
// one of the known record kinds.
var ErrUnknownKind = errors.New("unknown record kind")

// Payload fields the store interprets. Everything else is opaque.
const (
	FieldGrantID  = "grantId"
	FieldUserCode = "userCode"
	FieldUID      = "uid"
	FieldConsumed = "consumed"
)

// Kind enumerates the record kinds. The zero value is invalid.
type Kind uint8

const (
	KindInvalid Kind = iota
	AccessToken
	AuthorizationCode
	RefreshToken
	DeviceCode
	ClientCredentials
	Session
	Interaction
	Client
	InitialAccessToken
	RegistrationAccessToken
	PushedAuthorizationRequest
)

// Secondary identifies the payload field a kind can be looked up by,
// besides its primary id.
type Secondary uint8

const (
	SecondaryNone Secondary = iota
	SecondaryUserCode
	SecondaryUID
)

// Field returns the payload key backing the secondary lookup, or "" for
// SecondaryNone.
func (s Secondary) Field() string {
	switch s {
	case SecondaryUserCode:
		return FieldUserCode
	case SecondaryUID:
		return FieldUID
	default:
		return ""
	}
}

func (s Secondary) String() string {
	if f := s.Field(); f != "" {
		return f
	}
	return "none"
}

// Spec describes how one record kind is stored and indexed.
type Spec struct {
	Kind Kind

	// Name is the normalized storage identifier (table name, key prefix).
	Name string

	// Grantable kinds are indexed on payload.grantId and removed by
	// grant-cascade revocation.
	Grantable bool

	// Secondary is the unique lookup field, if any.
	Secondary Secondary
}

// Supports reports whether the kind declares s as its secondary lookup.
func (s Spec) Supports(sec Secondary) bool {
	return sec != SecondaryNone && s.Secondary == sec
}

func (s Spec) String() string {
	return s.Name
}

var specs = [...]Spec{
	{Kind: AccessToken, Name: "access_token", Grantable: true},
	{Kind: AuthorizationCode, Name: "authorization_code", Grantable: true},
	{Kind: RefreshToken, Name: "refresh_token", Grantable: true},
	{Kind: DeviceCode, Name: "device_code", Grantable: true, Secondary: SecondaryUserCode},
	{Kind: ClientCredentials, Name: "client_credentials"},
	{Kind: Session, Name: "session", Secondary: SecondaryUID},
	{Kind: Interaction, Name: "interaction"},
	{Kind: Client, Name: "client"},
	{Kind: InitialAccessToken, Name: "initial_access_token"},
	{Kind: RegistrationAccessToken, Name: "registration_access_token"},
	{Kind: PushedAuthorizationRequest, Name: "pushed_authorization_request"},
}

var byName = func() map[string]Spec {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}()

// Specs returns every record kind in enumeration order.
func Specs() []Spec {
	out := make([]Spec, len(specs))
	copy(out, specs[:])
	return out
}

// GrantableSpecs returns the kinds that take part in grant-cascade revocation.
func GrantableSpecs() []Spec {
	var out []Spec
	for _, s := range specs {
		if s.Grantable {
			out = append(out, s)
		}
	}
	return out
}

// Spec returns the static spec for k. It panics on KindInvalid or an
// out-of-range value, which can only come from a programming error.
func (k Kind) Spec() Spec {
	if k == KindInvalid || int(k) > len(specs) {
		panic(fmt.Sprintf("model: invalid kind %d", k))
	}
	return specs[k-1]
}

func (k Kind) String() string {
	if k == KindInvalid || int(k) > len(specs) {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return specs[k-1].Name
}

// Lookup normalizes a logical model name and resolves its Spec.
func Lookup(name string) (Spec, error) {
	normalized := Normalize(name)
	if s, ok := byName[normalized]; ok {
		return s, nil
	}
	return Spec{}, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}
