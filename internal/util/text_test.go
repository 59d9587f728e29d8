package util

import "testing"

func TestStripColors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"^1Red^7Name", "RedName"},
		{"^^caret", "^caret"},
		{"trailing^", "trailing^"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := StripColors(tt.in); got != tt.want {
				t.Errorf("StripColors(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	if got := NormalizeName("  ^4Big^7BOSS "); got != "bigboss" {
		t.Errorf("NormalizeName() = %q, want %q", got, "bigboss")
	}
}

func TestIsPrivateHost(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.5.4", true},
		{"172.31.255.255", true},
		{"172.32.0.1", false},
		{"169.254.1.1", true},
		{"[::1]", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"example.com", false},
		{"8.8.8.8", false},
		{"10.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			if got := IsPrivateHost(tt.host); got != tt.want {
				t.Errorf("IsPrivateHost(%q) = %v, want %v", tt.host, got, tt.want)
			}
		})
	}
}
