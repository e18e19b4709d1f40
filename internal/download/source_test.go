package download

import (
	"errors"
	"testing"

	"github.com/ytget/mediarelay/internal/model"
)

func TestValidateSource(t *testing.T) {
	tests := []struct {
		in    string
		valid bool
	}{
		{"https://youtube.com/watch?v=abc", true},
		{"http://cdn.example.com/a.mp4", true},
		{"  https://example.com/a.mp4  ", true},
		{"", false},
		{"ftp://example.com/a.mp4", false},
		{"example.com/a.mp4", false},
		{"https://", false},
		{"not a url", false},
	}

	for _, test := range tests {
		_, err := ValidateSource(test.in)
		if test.valid && err != nil {
			t.Errorf("ValidateSource(%q) unexpected error: %v", test.in, err)
		}
		if !test.valid {
			if err == nil {
				t.Errorf("ValidateSource(%q) expected error", test.in)
			} else if !errors.Is(err, model.ErrUnsupportedSource) {
				t.Errorf("ValidateSource(%q) error should be ErrUnsupportedSource, got %v", test.in, err)
			}
		}
	}
}

func TestMatchHost(t *testing.T) {
	tests := []struct {
		host     string
		domain   string
		expected bool
	}{
		{"youtube.com", "youtube.com", true},
		{"www.youtube.com", "youtube.com", true},
		{"m.YouTube.com", "youtube.com", true},
		{"notyoutube.com", "youtube.com", false},
		{"youtube.com.evil.net", "youtube.com", false},
		{"youtube.com", "", false},
	}

	for _, test := range tests {
		if result := matchHost(test.host, test.domain); result != test.expected {
			t.Errorf("matchHost(%q, %q) = %v, expected %v", test.host, test.domain, result, test.expected)
		}
	}
}
