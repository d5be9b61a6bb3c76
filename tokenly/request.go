package tokenly

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Header is a single header line. Name keeps the casing it arrived with.
type Header struct {
	Name  string
	Value string
}

// Cookie is one name=value pair carried in a Cookie request header.
type Cookie struct {
	Name  string
	Value string
}

// Request is a host-agnostic HTTP/1.x request.
//
// Concurrency: Request is treated as an immutable value. Every patch operation in this
// package returns a new Request and never touches the receiver's slices.
type Request struct {
	Method  string
	Target  string
	Proto   string
	Headers []Header
	Body    []byte
}

// Response is a host-agnostic HTTP/1.x response as recorded by a macro.
type Response struct {
	StatusLine string
	Headers    []Header
	Body       []byte
}

// Exchange is one recorded macro request/response pair.
// Response is nil when the host recorded no response for the request.
type Exchange struct {
	Request  *Request
	Response *Response
}

// HasResponse reports whether the exchange carries a response.
func (e Exchange) HasResponse() bool { return e.Response != nil }

var errMalformedMessage = errors.New("malformed http message")

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	out := r
	out.Headers = append([]Header(nil), r.Headers...)
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// HasHeader reports whether a header named name is present (case-insensitive).
func (r Request) HasHeader(name string) bool {
	_, ok := r.Header(name)
	return ok
}

// Header returns the value of the first header named name (case-insensitive).
func (r Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Cookies returns every cookie pair found in the request's Cookie headers, in order.
func (r Request) Cookies() []Cookie {
	var out []Cookie
	for _, h := range r.Headers {
		if !strings.EqualFold(h.Name, cookieHeader) {
			continue
		}
		for _, seg := range strings.Split(h.Value, ";") {
			name, value, ok := splitCookiePair(seg)
			if !ok {
				continue
			}
			out = append(out, Cookie{Name: name, Value: value})
		}
	}
	return out
}

// Cookie returns the value of the first cookie named name. Cookie names are case-sensitive.
func (r Request) Cookie(name string) (string, bool) {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// HasCookie reports whether a cookie named name is present.
func (r Request) HasCookie(name string) bool {
	_, ok := r.Cookie(name)
	return ok
}

// Bytes renders the request in HTTP/1.x wire form using CRLF line endings.
func (r Request) Bytes() []byte {
	var b bytes.Buffer
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.Target, proto)
	writeHeaders(&b, r.Headers)
	b.Write(r.Body)
	return b.Bytes()
}

// String renders the request as text.
func (r Request) String() string { return string(r.Bytes()) }

// String renders the response as the full text that token patterns are matched against:
// status line, headers and body.
func (r *Response) String() string {
	if r == nil {
		return ""
	}
	var b bytes.Buffer
	b.WriteString(r.StatusLine)
	b.WriteString("\r\n")
	writeHeaders(&b, r.Headers)
	b.Write(r.Body)
	return b.String()
}

func writeHeaders(b *bytes.Buffer, headers []Header) {
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
}

// ParseRequest parses a raw HTTP/1.x request. Header names and order are preserved exactly;
// bare LF line endings are accepted.
func ParseRequest(raw []byte) (Request, error) {
	start, headers, body, err := splitMessage(raw)
	if err != nil {
		return Request{}, err
	}
	parts := strings.SplitN(start, " ", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return Request{}, fmt.Errorf("%w: bad request line %q", errMalformedMessage, start)
	}
	return Request{
		Method:  parts[0],
		Target:  parts[1],
		Proto:   parts[2],
		Headers: headers,
		Body:    body,
	}, nil
}

// ParseResponse parses a raw HTTP/1.x response.
func ParseResponse(raw []byte) (*Response, error) {
	start, headers, body, err := splitMessage(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(start, "HTTP/") {
		return nil, fmt.Errorf("%w: bad status line %q", errMalformedMessage, start)
	}
	return &Response{StatusLine: start, Headers: headers, Body: body}, nil
}

func splitMessage(raw []byte) (string, []Header, []byte, error) {
	head, body, found := bytes.Cut(raw, []byte("\r\n\r\n"))
	if !found {
		head, body, found = bytes.Cut(raw, []byte("\n\n"))
	}
	if !found {
		// A message without a blank line is all head and no body.
		head = bytes.TrimRight(raw, "\r\n")
		body = nil
	}
	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return "", nil, nil, fmt.Errorf("%w: empty start line", errMalformedMessage)
	}
	headers := make([]Header, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return "", nil, nil, fmt.Errorf("%w: bad header line %q", errMalformedMessage, line)
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimLeft(value, " \t")})
	}
	if len(body) == 0 {
		body = nil
	}
	return lines[0], headers, body, nil
}
