package model

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"AccessToken", "access_token"},
		{"accessToken", "access_token"},
		{"access_token", "access_token"},
		{"access-token", "access_token"},
		{"Access Token", "access_token"},
		{"__AccessToken__", "access_token"},
		{"Session", "session"},
		{"PushedAuthorizationRequest", "pushed_authorization_request"},
		{"XMLHttpRequest", "xml_http_request"},
		{"OAuth2Client", "o_auth_2_client"},
		{"ID", "id"},
		{"", ""},
		{"---", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_NFC(t *testing.T) {
	// "e" + combining acute accent composes to a single "é"
	decomposed := "Cafe\u0301Token"
	composed := "Caf\u00e9Token"

	assert.Equal(t, Normalize(composed), Normalize(decomposed))
	assert.Equal(t, "caf\u00e9_token", Normalize(decomposed))
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range Specs() {
		assert.Equal(t, s.Name, Normalize(s.Name))
		assert.Equal(t, s.Name, Normalize(Normalize(s.Name)))
	}
}

func TestNormalize_InjectiveOverKinds(t *testing.T) {
	seen := make(map[string]Kind)
	for _, s := range Specs() {
		got := Normalize(s.Name)
		prev, dup := seen[got]
		assert.False(t, dup, "%s collides with %s", s.Kind, prev)
		seen[got] = s.Kind
	}
}

func TestNormalize_ConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "registration_access_token", Normalize("RegistrationAccessToken"))
			}
		}()
	}
	wg.Wait()
}
