package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedURL is returned when a URL lacks a query string or a required parameter.
var ErrMalformedURL = errors.New("malformed url")

// Params is a query-parameter mapping that remembers first-insertion order.
type Params struct {
	keys   []string
	values map[string]string
}

// NewParams returns an empty parameter set.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Set stores value under key. A repeated key keeps its original position.
func (p *Params) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key.
func (p *Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Require returns the value for key or an ErrMalformedURL.
func (p *Params) Require(key string) (string, error) {
	v, ok := p.values[key]
	if !ok {
		return "", fmt.Errorf("%w: missing required parameter %q", ErrMalformedURL, key)
	}
	return v, nil
}

// Keys returns the parameter names in insertion order.
func (p *Params) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Len returns the number of distinct parameters.
func (p *Params) Len() int {
	return len(p.keys)
}

// SplitURL separates rawURL into the part before the last '?' and its
// parameters. Every parameter must have exactly one '='. Values are not
// percent-decoded.
func SplitURL(rawURL string) (string, *Params, error) {
	idx := strings.LastIndex(rawURL, "?")
	if idx < 0 {
		return "", nil, fmt.Errorf("%w: no query string in %q", ErrMalformedURL, rawURL)
	}

	params := NewParams()
	for _, pair := range strings.Split(rawURL[idx+1:], "&") {
		parts := strings.Split(pair, "=")
		if len(parts) != 2 {
			return "", nil, fmt.Errorf("%w: bad parameter %q in %q", ErrMalformedURL, pair, rawURL)
		}
		params.Set(parts[0], parts[1])
	}
	return rawURL[:idx], params, nil
}

// JoinURL is the inverse of SplitURL.
func JoinURL(base string, params *Params) string {
	if params == nil {
		return base + "?"
	}
	pairs := make([]string, 0, params.Len())
	for _, k := range params.keys {
		pairs = append(pairs, k+"="+params.values[k])
	}
	return base + "?" + strings.Join(pairs, "&")
}
