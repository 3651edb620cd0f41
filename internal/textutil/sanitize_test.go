package textutil_test

import (
	"testing"

	"photoqueue/internal/textutil"
)

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"IMG_0001.JPG", "IMG_0001.JPG"},
		{"  beach day.jpg ", "beach day.jpg"},
		{"../../etc/passwd", "-..-etc-passwd"},
		{"dir\\photo.png", "dir-photo.png"},
		{"what?.jpg", "what.jpg"},
		{"12:30:00.jpg", "12-30-00.jpg"},
		{".hidden.jpg", "hidden.jpg"},
		{"tab\there.jpg", "tabhere.jpg"},
		{"..", "upload"},
		{"", "upload"},
	}
	for _, tc := range tests {
		if got := textutil.SafeFileName(tc.in); got != tc.want {
			t.Errorf("SafeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
