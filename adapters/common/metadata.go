// Package common provides shared adapter utilities for goTokenly.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"strings"

	"github.com/keksclan/goTokenly/tokenly"
)

// HeaderCarrier abstracts writing headers back to different transports.
type HeaderCarrier interface {
	// Set replaces every value of key with value.
	Set(key, value string)
}

// AdapterOptions holds common adapter configuration.
type AdapterOptions struct {
	// FailOpen lets a request continue unmodified when the engine returns an error.
	FailOpen bool
}

// ChangedHeaders returns the headers whose value differs between before and after,
// keyed by the name used in after. Repeated headers (several Cookie lines) are joined
// with "; " for Cookie and ", " otherwise, which is how transports fold them.
func ChangedHeaders(before, after tokenly.Request) []tokenly.Header {
	prev := fold(before.Headers)
	var out []tokenly.Header
	for _, h := range foldOrdered(after.Headers) {
		if v, ok := prev[strings.ToLower(h.Name)]; ok && v == h.Value {
			continue
		}
		out = append(out, h)
	}
	return out
}

// ApplyChanges writes the headers that changed between before and after to c.
func ApplyChanges(c HeaderCarrier, before, after tokenly.Request) int {
	changed := ChangedHeaders(before, after)
	for _, h := range changed {
		c.Set(h.Name, h.Value)
	}
	return len(changed)
}

func fold(headers []tokenly.Header) map[string]string {
	m := make(map[string]string, len(headers))
	for _, h := range foldOrdered(headers) {
		m[strings.ToLower(h.Name)] = h.Value
	}
	return m
}

func foldOrdered(headers []tokenly.Header) []tokenly.Header {
	idx := make(map[string]int, len(headers))
	var out []tokenly.Header
	for _, h := range headers {
		key := strings.ToLower(h.Name)
		i, seen := idx[key]
		if !seen {
			idx[key] = len(out)
			out = append(out, h)
			continue
		}
		sep := ", "
		if key == "cookie" {
			sep = "; "
		}
		out[i].Value += sep + h.Value
	}
	return out
}
