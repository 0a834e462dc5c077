// Package signature verifies and produces the shared-secret digests exchanged
// with merchants and the monitor agent.
//
// Two layouts exist. The query layout joins name=value pairs with "&" and
// appends "&key=<secret>"; the concat layout joins bare values and appends the
// secret directly. Both are hashed with MD5 and rendered as lowercase hex.
//
// MD5 here is a legacy wire compatibility constraint. It is an integrity check
// against a shared secret, not protection against a capable attacker.
//
// Older monitor and merchant clients sent values with stray whitespace or with
// numbers in non-canonical form, so verification accepts a small, closed set of
// normalized variants and succeeds if any of them matches. This set exists for
// backward compatibility only.
package signature

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// Field is one named input to a digest, in wire order.
type Field struct {
	Name  string
	Value string
}

// F is shorthand for building a Field.
func F(name, value string) Field {
	return Field{Name: name, Value: value}
}

type Layout int

const (
	// LayoutQuery renders "a=1&b=2&key=secret".
	LayoutQuery Layout = iota
	// LayoutConcat renders "12secret".
	LayoutConcat
)

func (l Layout) String() string {
	switch l {
	case LayoutQuery:
		return "query"
	case LayoutConcat:
		return "concat"
	default:
		return "unknown"
	}
}

// Variant describes one accepted encoding: a layout plus the normalization
// applied to values and secret before hashing.
type Variant struct {
	Name        string
	Layout      Layout
	CoerceValue bool
	TrimValues  bool
	TrimSecret  bool
}

// Scheme is the ordered set of variants accepted for one kind of request.
type Scheme []Variant

var (
	// Canonical is the current merchant-facing scheme.
	Canonical = Scheme{{Name: "canonical", Layout: LayoutQuery}}

	// Legacy is the bare concatenation used by older merchant integrations.
	Legacy = Scheme{{Name: "legacy", Layout: LayoutConcat}}

	// CreateOrder accepts both merchant layouts, canonical first.
	CreateOrder = Scheme{
		{Name: "canonical", Layout: LayoutQuery},
		{Name: "legacy", Layout: LayoutConcat},
	}

	// Heartbeat is md5(t + key) and its historical encodings.
	Heartbeat = Scheme{
		{Name: "raw", Layout: LayoutConcat},
		{Name: "coerced", Layout: LayoutConcat, CoerceValue: true},
		{Name: "trimmed-values", Layout: LayoutConcat, TrimValues: true},
		{Name: "trimmed-secret", Layout: LayoutConcat, TrimSecret: true},
	}

	// Push is md5(type + price + t + key) and its historical encodings.
	Push = Scheme{
		{Name: "raw", Layout: LayoutConcat},
		{Name: "coerced", Layout: LayoutConcat, CoerceValue: true},
		{Name: "trimmed", Layout: LayoutConcat, TrimValues: true, TrimSecret: true},
	}
)

// Verify reports whether presented matches any variant of the scheme.
// An empty secret or empty signature never verifies.
func Verify(scheme Scheme, fields []Field, secret, presented string) bool {
	_, ok := Match(scheme, fields, secret, presented)
	return ok
}

// Match is Verify that also returns the variant that matched.
func Match(scheme Scheme, fields []Field, secret, presented string) (Variant, bool) {
	presented = strings.ToLower(strings.TrimSpace(presented))
	if presented == "" || secret == "" {
		return Variant{}, false
	}
	for _, v := range scheme {
		want := v.Sign(fields, secret)
		if subtle.ConstantTimeCompare([]byte(want), []byte(presented)) == 1 {
			return v, true
		}
	}
	return Variant{}, false
}

// Sign computes the digest for a single variant.
func (v Variant) Sign(fields []Field, secret string) string {
	return Digest(v.Payload(fields, secret))
}

// Payload returns the exact string that gets hashed.
func (v Variant) Payload(fields []Field, secret string) string {
	if v.TrimSecret {
		secret = strings.TrimSpace(secret)
	}

	var b strings.Builder
	for i, f := range fields {
		value := f.Value
		if v.TrimValues {
			value = strings.TrimSpace(value)
		}
		if v.CoerceValue {
			value = coerce(value)
		}
		switch v.Layout {
		case LayoutQuery:
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(f.Name)
			b.WriteByte('=')
			b.WriteString(value)
		default:
			b.WriteString(value)
		}
	}

	if v.Layout == LayoutQuery {
		b.WriteString("&key=")
	}
	b.WriteString(secret)
	return b.String()
}

// SignCanonical signs fields with the current query layout.
func SignCanonical(fields []Field, secret string) string {
	return Canonical[0].Sign(fields, secret)
}

// SignLegacy signs fields with the bare concatenation layout.
func SignLegacy(fields []Field, secret string) string {
	return Legacy[0].Sign(fields, secret)
}

// Digest is lowercase hex MD5.
func Digest(payload string) string {
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// coerce renders numeric values in canonical form ("0010.50" -> "10.5").
// Non-numeric values pass through untouched.
func coerce(value string) string {
	if value == "" {
		return value
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return value
	}
	return d.String()
}
