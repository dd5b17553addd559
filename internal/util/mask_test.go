package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{name: "e164", phone: "+919876543210", want: "+********3210"},
		{name: "no plus", phone: "9876543210", want: "******3210"},
		{name: "short", phone: "+123", want: "+***"},
		{name: "empty", phone: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhone(tt.phone))
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "checkout", SanitizeInput("  checkout "))
	assert.Equal(t, "a&lt;b", SanitizeInput("a<b"))
}

func TestContainsSuspicious(t *testing.T) {
	assert.False(t, ContainsSuspicious("otp_sent"))
	assert.True(t, ContainsSuspicious("<img onerror=x>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.True(t, ContainsSuspicious("SCRIPT"))
}
