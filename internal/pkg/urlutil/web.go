package urlutil

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildClientURL builds a URL into the web client for redirects after login.
// Returns a URL like: {baseURL}{path}?{params}
func BuildClientURL(baseURL, path string, params map[string]string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ObjectURL builds the public URL of an object in a bucket.
// Returns a URL like: {baseURL}/{key} with every key segment escaped.
// An empty baseURL means the public storage.googleapis.com endpoint.
func ObjectURL(baseURL, bucket, key string) string {
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://storage.googleapis.com/%s", bucket)
	}
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.Join(segments, "/")
}

// IsHTTPURL reports whether s is an absolute http or https URL with a host
func IsHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
