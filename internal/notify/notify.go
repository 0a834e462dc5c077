// Package notify delivers settlement callbacks to merchant endpoints.
//
// Each callback kind is a Plan: an ordered list of Strategies tried until one
// is accepted. A Strategy is pure data describing which order id goes into
// payId, how the fields are signed and how they travel on the wire, so adding
// or retiring a wire format never touches the dispatcher.
package notify

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/qrpay/internal/core/money"
	"github.com/frahmantamala/qrpay/internal/signature"
)

type Kind string

const (
	KindNotify Kind = "notify"
	KindReturn Kind = "return"
)

type DeliveryResult string

const (
	Confirmed   DeliveryResult = "CONFIRMED"
	Unconfirmed DeliveryResult = "UNCONFIRMED"
)

// Delivery is the order snapshot a callback is built from.
type Delivery struct {
	OrderID         string
	MerchantOrderID string
	Param           string
	PaymentType     int
	PriceCents      int64
	SlotCents       int64
	NotifyURL       string
	ReturnURL       string
}

type PayIDSource int

const (
	PlatformOrderID PayIDSource = iota
	MerchantOrderID
)

type Encoding int

const (
	// EncodingForm posts the fields as an urlencoded form body.
	EncodingForm Encoding = iota
	// EncodingQueryRaw appends the fields to the URL without urlencoding.
	EncodingQueryRaw
	// EncodingQueryEscaped appends the fields with payId and param urlencoded.
	EncodingQueryEscaped
)

type Strategy struct {
	Name     string
	PayID    PayIDSource
	Sign     signature.Variant
	Encoding Encoding
}

var (
	CurrentNotify = Strategy{Name: "current", PayID: PlatformOrderID, Sign: signature.Canonical[0], Encoding: EncodingForm}
	LegacyNotify  = Strategy{Name: "legacy", PayID: MerchantOrderID, Sign: signature.Legacy[0], Encoding: EncodingQueryRaw}
	CurrentReturn = Strategy{Name: "current", PayID: MerchantOrderID, Sign: signature.Canonical[0], Encoding: EncodingQueryEscaped}
	LegacyReturn  = Strategy{Name: "legacy", PayID: MerchantOrderID, Sign: signature.Legacy[0], Encoding: EncodingQueryEscaped}
)

// Request is a fully built outbound call.
type Request struct {
	Method string
	URL    string
	Form   map[string]string
}

// Fields returns the signed fields in wire order.
func (s Strategy) Fields(d Delivery) []signature.Field {
	payID := d.OrderID
	if s.PayID == MerchantOrderID {
		payID = d.MerchantOrderID
	}
	return []signature.Field{
		signature.F("payId", payID),
		signature.F("param", d.Param),
		signature.F("type", strconv.Itoa(d.PaymentType)),
		signature.F("price", money.Format(d.PriceCents)),
		signature.F("reallyPrice", money.Format(d.SlotCents)),
	}
}

func (s Strategy) Signature(d Delivery, secret string) string {
	return s.Sign.Sign(s.Fields(d), secret)
}

// Build renders the call against target.
func (s Strategy) Build(target string, d Delivery, secret string) Request {
	if s.Encoding == EncodingForm {
		form := make(map[string]string, 6)
		for _, f := range s.Fields(d) {
			form[f.Name] = f.Value
		}
		form["sign"] = s.Signature(d, secret)
		return Request{Method: http.MethodPost, URL: target, Form: form}
	}
	return Request{Method: http.MethodGet, URL: s.URL(target, d, secret)}
}

// URL appends the signed query to target, joining with "&" when target
// already carries a query string.
func (s Strategy) URL(target string, d Delivery, secret string) string {
	var b strings.Builder
	b.WriteString(target)
	if strings.Contains(target, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for _, f := range s.Fields(d) {
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(s.encode(f))
		b.WriteByte('&')
	}
	b.WriteString("sign=")
	b.WriteString(s.Signature(d, secret))
	return b.String()
}

func (s Strategy) encode(f signature.Field) string {
	switch s.Encoding {
	case EncodingQueryEscaped:
		if f.Name == "payId" || f.Name == "param" {
			return url.QueryEscape(f.Value)
		}
		return f.Value
	default:
		return escapeUnsafe(f.Value)
	}
}

// escapeUnsafe percent-encodes only the bytes that cannot appear in a request
// line at all. Everything else is sent verbatim, as legacy receivers expect.
func escapeUnsafe(v string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c <= 0x20 || c >= 0x7f || c == '#' {
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Attempt is the outcome of one strategy.
type Attempt struct {
	Strategy   string
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
	Accepted   bool
	Duration   time.Duration
}

// Response is the body, or the error text when the call never completed.
func (a Attempt) Response() string {
	if a.Err != nil {
		return a.Err.Error()
	}
	return a.Body
}

type Plan struct {
	Kind       Kind
	Strategies []Strategy
	Accept     func(Attempt) bool
}

var (
	// NotifyPlan is confirmed only by a 2xx response whose trimmed body is
	// exactly "success".
	NotifyPlan = Plan{
		Kind:       KindNotify,
		Strategies: []Strategy{CurrentNotify, LegacyNotify},
		Accept: func(a Attempt) bool {
			return a.Err == nil && a.StatusCode >= 200 && a.StatusCode < 300 &&
				strings.TrimSpace(a.Body) == "success"
		},
	}

	// ReturnPlan falls back whenever the current attempt failed outright or
	// answered with an empty body.
	// TODO: accept an explicit success marker once merchants send one; an
	// empty 200 is treated as failure today.
	ReturnPlan = Plan{
		Kind:       KindReturn,
		Strategies: []Strategy{CurrentReturn, LegacyReturn},
		Accept: func(a Attempt) bool {
			return a.Err == nil && a.Body != ""
		},
	}
)

type Result struct {
	Kind     Kind
	Status   DeliveryResult
	Strategy string
	Attempts []Attempt
}

func (r Result) Confirmed() bool {
	return r.Status == Confirmed
}

// Responses maps each attempted strategy to what it got back.
func (r Result) Responses() map[string]string {
	out := make(map[string]string, len(r.Attempts))
	for _, a := range r.Attempts {
		out[a.Strategy] = a.Response()
	}
	return out
}
