package registry

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// FileScheme prefixes identities of uploaded files.
const FileScheme = "file://"

// ErrInvalidURL is returned for URLs that cannot serve as a source identity.
var ErrInvalidURL = errors.New("invalid url")

// CanonicalURL normalizes a web URL into a source identity: scheme and host
// are lower-cased, default ports and the fragment are dropped, and an empty
// path becomes "/". Only http and https are accepted.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// FileIdentity returns the identity of an uploaded file. Only the base name
// is kept, so the same file uploaded from different folders is one document.
func FileIdentity(name string) string {
	base := path.Base(filepath.ToSlash(name))
	return FileScheme + base
}

// IsFileIdentity reports whether identity names an uploaded file.
func IsFileIdentity(identity string) bool {
	return strings.HasPrefix(identity, FileScheme)
}
