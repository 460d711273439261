package transport

import "net/url"

// KeyEncoding selects how a portal service key is placed on the query string.
// Portals hand out the same key in a percent-encoded and a decoded form, and
// either may end up in configuration.
type KeyEncoding string

const (
	// KeyRaw sends the key as configured.
	KeyRaw KeyEncoding = "raw"
	// KeyDecoded percent-decodes the key first.
	KeyDecoded KeyEncoding = "decoded"
)

// KeyEncodings is the order keys are tried in.
var KeyEncodings = []KeyEncoding{KeyRaw, KeyDecoded}

// WithServiceKey returns a copy of req carrying key under param using enc.
func WithServiceKey(req Request, param, key string, enc KeyEncoding) Request {
	out := req
	out.Query = url.Values{}
	for k, v := range req.Query {
		out.Query[k] = append([]string(nil), v...)
	}

	value := key
	if enc == KeyDecoded {
		if decoded, err := url.PathUnescape(key); err == nil {
			value = decoded
		}
	}
	out.Query.Set(param, value)
	return out
}

// DistinctEncodings drops the decoded variant when decoding changes nothing.
func DistinctEncodings(key string) []KeyEncoding {
	decoded, err := url.PathUnescape(key)
	if err != nil || decoded == key {
		return []KeyEncoding{KeyRaw}
	}
	return KeyEncodings
}
