package tokenly

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

const cookieHeader = "Cookie"

// injectable reports whether token can be written both as a header value and as a cookie
// value without changing the structure of the request. CR and LF would end the header line;
// ';' and ',' would start another cookie pair.
func injectable(token string) bool {
	if token == "" || !httpguts.ValidHeaderFieldValue(token) {
		return false
	}
	for i := 0; i < len(token); i++ {
		switch c := token[i]; {
		case c <= ' ', c == 0x7f, c == ';', c == ',':
			return false
		}
	}
	return true
}

// AddOrUpdateHeader returns a copy of req carrying exactly one header named name with the
// given value. An existing header (matched case-insensitively) keeps its position and casing
// and has its value replaced; further headers with the same name are dropped. When the header
// is absent it is appended. Everything else in the request is left untouched.
func AddOrUpdateHeader(req Request, name, value string) Request {
	out := req.Clone()
	headers := make([]Header, 0, len(req.Headers)+1)
	found := false
	for _, h := range req.Headers {
		if !strings.EqualFold(h.Name, name) {
			headers = append(headers, h)
			continue
		}
		if found {
			continue
		}
		found = true
		headers = append(headers, Header{Name: h.Name, Value: value})
	}
	if !found {
		headers = append(headers, Header{Name: name, Value: value})
	}
	out.Headers = headers
	return out
}

// AddOrUpdateCookie returns a copy of req where the cookie named name carries value.
// Every existing pair with that name is rewritten in place; other pairs keep their exact
// text. When the cookie is absent it is appended to the last Cookie header, or a new Cookie
// header is added if the request has none.
func AddOrUpdateCookie(req Request, name, value string) Request {
	out := req.Clone()
	pair := name + "=" + value

	if req.HasCookie(name) {
		for i, h := range out.Headers {
			if !strings.EqualFold(h.Name, cookieHeader) {
				continue
			}
			segs := strings.Split(h.Value, ";")
			for j, seg := range segs {
				n, _, ok := splitCookiePair(seg)
				if !ok || n != name {
					continue
				}
				lead := seg[:len(seg)-len(strings.TrimLeft(seg, " \t"))]
				segs[j] = lead + pair
			}
			out.Headers[i].Value = strings.Join(segs, ";")
		}
		return out
	}

	last := -1
	for i, h := range out.Headers {
		if strings.EqualFold(h.Name, cookieHeader) {
			last = i
		}
	}
	if last < 0 {
		out.Headers = append(out.Headers, Header{Name: cookieHeader, Value: pair})
		return out
	}
	existing := strings.TrimRight(out.Headers[last].Value, " \t;")
	if strings.TrimSpace(existing) == "" {
		out.Headers[last].Value = pair
	} else {
		out.Headers[last].Value = existing + "; " + pair
	}
	return out
}

func splitCookiePair(seg string) (name, value string, ok bool) {
	seg = strings.TrimSpace(seg)
	if seg == "" {
		return "", "", false
	}
	name, value, _ = strings.Cut(seg, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(value), true
}
