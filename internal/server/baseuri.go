package server

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/kafbridge/kafbridge/internal/bridge"
)

var (
	forwardedHostPattern  = regexp.MustCompile(`(?i)host=([^;,]+)`)
	forwardedProtoPattern = regexp.MustCompile(`(?i)proto=([^;,]+)`)
	hostPortPattern       = regexp.MustCompile(`^.*:[0-9]+$`)
)

// consumerBaseURI derives the base URI returned by consumer creation: the
// client-facing scheme and authority (honouring forwarding proxies) plus the
// request path, with "instances/<name>" appended.
func consumerBaseURI(r *http.Request, name string) (string, error) {
	uri, err := requestURI(r)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	return uri + "instances/" + name, nil
}

// requestURI rebuilds the absolute URI of the request as the client sees it.
// The Forwarded header wins over the X-Forwarded pair; only the first
// Forwarded header is honoured. Without any forwarding information the
// request's own URI is used.
func requestURI(r *http.Request) (string, error) {
	if forwarded := r.Header.Get("Forwarded"); forwarded != "" {
		host := forwardedHostPattern.FindStringSubmatch(forwarded)
		proto := forwardedProtoPattern.FindStringSubmatch(forwarded)
		if host != nil && proto != nil {
			return forwardedURI(r, host[1], proto[1])
		}
	} else {
		host := r.Header.Get("X-Forwarded-Host")
		proto := r.Header.Get("X-Forwarded-Proto")
		if host != "" && proto != "" {
			return forwardedURI(r, host, proto)
		}
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path, nil
}

// forwardedURI assembles the URI a forwarding proxy exposed. A host without a
// port gets the default port of the proto; protos without a default port are
// rejected.
func forwardedURI(r *http.Request, host, proto string) (string, error) {
	path := r.URL.Path
	if forwardedPath := r.Header.Get("X-Forwarded-Path"); forwardedPath != "" {
		path = forwardedPath
	}
	if !hostPortPattern.MatchString(host) {
		switch proto {
		case "http":
			host += ":80"
		case "https":
			host += ":443"
		default:
			return "", bridge.NewError(http.StatusInternalServerError, "%s is not a valid schema/proto.", proto)
		}
	}
	return proto + "://" + host + path, nil
}
