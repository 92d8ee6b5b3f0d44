package clientip

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRealClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "203.0.113.5:4431", want: "203.0.113.5"},
		{name: "remote addr without port", remote: "203.0.113.5", want: "203.0.113.5"},
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, remote: "10.0.0.2:80", want: "198.51.100.1"},
		{name: "fly header wins", headers: map[string]string{"Fly-Client-IP": "192.0.2.44", "X-Forwarded-For": "198.51.100.1"}, remote: "10.0.0.2:80", want: "192.0.2.44"},
		{name: "empty forwarded entry", headers: map[string]string{"X-Forwarded-For": " , 198.51.100.1"}, remote: "10.0.0.2:80", want: "10.0.0.2"},
		{name: "ipv6", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, RealClientIP(r))
		})
	}
}
