package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM":                 "https://example.com/",
		"https://example.com/a/b?x=1#section": "https://example.com/a/b?x=1",
		"http://example.com:80/docs":          "http://example.com/docs",
		"https://example.com:8443/":           "https://example.com:8443/",
		"  https://example.com/path  ":        "https://example.com/path",
		"http://[::1]:8080/x":                 "http://[::1]:8080/x",
	}
	for in, want := range cases {
		got, err := CanonicalURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestCanonicalURL_Rejects(t *testing.T) {
	for _, in := range []string{"ftp://example.com/", "example.com", "https://", "://bad"} {
		_, err := CanonicalURL(in)
		assert.True(t, errors.Is(err, ErrInvalidURL), "%q: %v", in, err)
	}
}

func TestFileIdentity(t *testing.T) {
	assert.Equal(t, "file://a.txt", FileIdentity("a.txt"))
	assert.Equal(t, "file://report.pdf", FileIdentity("/tmp/uploads/report.pdf"))
	assert.True(t, IsFileIdentity(FileIdentity("x.docx")))
	assert.False(t, IsFileIdentity("https://example.com/"))
}
