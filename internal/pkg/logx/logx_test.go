package logx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.57:4312", "203.0.113.0"},
		{"203.0.113.57", "203.0.113.0"},
		{"127.0.0.1:80", "127.0.0.1"},
		{"[2001:db8:85a3:8d3:1319:8a2e:370:7348]:443", "2001:db8:85a3:8d3::"},
		{"not-an-ip", "unknown_ip"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, anonymizeIP(tt.in))
		})
	}
}

func TestCheckFieldsRejectsOddCount(t *testing.T) {
	assert.Nil(t, checkFields("Info", []any{"k"}))
	assert.Equal(t, []any{"k", 1}, checkFields("Info", []any{"k", 1}))
}
