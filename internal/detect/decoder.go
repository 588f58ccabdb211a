package detect

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Request is the raw surface of an inbound request as seen at the edge.
// Every field may be empty.
type Request struct {
	Method  string
	Path    string // escaped path, e.g. "/file/..%2F..%2Fetc%2Fpasswd"
	Query   string // raw query string without the leading '?'
	Body    []byte
	Headers http.Header

	// ContentLength is the declared Content-Length, or -1 when unknown.
	ContentLength int64
	// Truncated reports that Body holds only a prefix of a longer body.
	Truncated bool
}

// Surface is the decoded form of a Request that matchers are evaluated
// against.
type Surface struct {
	Path     string // decoded path, used for path traversal only
	Query    string
	Body     string
	Combined string // decoded query followed by decoded body
	Headers  string // raw "Key: value" lines

	// BodyBytes is the length of the decoded body.
	BodyBytes int
	// DeclaredLength mirrors Request.ContentLength.
	DeclaredLength int64
	// RawBodyBytes is the length of the body before decoding.
	RawBodyBytes int
	// Truncated mirrors Request.Truncated. The full body is then at least
	// RawBodyBytes long.
	Truncated bool
}

// DecodePath percent-decodes an escaped URL path. '+' is kept as is. On a
// malformed escape sequence the input is returned unchanged.
func DecodePath(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// DecodeQuery percent-decodes a query-like value, treating '+' as a space.
// On a malformed escape sequence the input is returned unchanged.
func DecodeQuery(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// HeaderText renders headers as "Key: value" lines in key order.
func HeaderText(h http.Header) string {
	if len(h) == 0 {
		return ""
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range h[k] {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Decode normalizes r into a Surface.
func Decode(r Request) Surface {
	query := DecodeQuery(r.Query)
	body := DecodeQuery(string(r.Body))

	combined := query
	if body != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += body
	}

	return Surface{
		Path:           DecodePath(r.Path),
		Query:          query,
		Body:           body,
		Combined:       combined,
		Headers:        HeaderText(r.Headers),
		BodyBytes:      len(body),
		DeclaredLength: r.ContentLength,
		RawBodyBytes:   len(r.Body),
		Truncated:      r.Truncated,
	}
}
