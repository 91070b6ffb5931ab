package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		expected bool
	}{
		{"both set", Credentials{Email: "rider@example.com", Password: "hunter2"}, true},
		{"missing password", Credentials{Email: "rider@example.com"}, false},
		{"missing email", Credentials{Password: "hunter2"}, false},
		{"empty", Credentials{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.creds.Enabled())
		})
	}
}
