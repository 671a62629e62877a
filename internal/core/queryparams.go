package core

import (
	"net/url"
	"strings"
)

// QueryParams assembles the query string for one request. The op parameter
// is always serialized first and api-version last, with caller-added
// parameters in insertion order between them. Names and values are
// percent-encoded per RFC 3986; space encodes as %20, never '+'.
type QueryParams struct {
	names  []string
	values []string
}

// Add appends a parameter. Adding the same name twice keeps both, which is
// never needed by the current operations but keeps the type honest.
func (q *QueryParams) Add(name, value string) {
	q.names = append(q.names, name)
	q.values = append(q.values, value)
}

// Serialize renders the query string for the given operation, without the
// leading '?'.
func (q *QueryParams) Serialize(op Operation) string {
	var sb strings.Builder
	sb.WriteString("op=")
	sb.WriteString(op.Name)
	for i := range q.names {
		sb.WriteByte('&')
		sb.WriteString(encodeQueryComponent(q.names[i]))
		sb.WriteByte('=')
		sb.WriteString(encodeQueryComponent(q.values[i]))
	}
	sb.WriteString("&api-version=")
	sb.WriteString(APIVersion)
	return sb.String()
}

// encodeQueryComponent percent-encodes a query name or value. QueryEscape
// would emit '+' for space, which some server-side decoders take literally,
// so rewrite it to %20.
func encodeQueryComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
