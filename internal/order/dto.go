package order

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/common/validation"
)

// Text holds a request value that clients send either as a JSON string or as
// a bare JSON number. The raw text is kept because it is part of the signed
// payload.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if string(data) == "null" {
		*t = ""
		return nil
	}
	*t = Text(data)
	return nil
}

// CreateOrderRequest is the merchant create call. Field names follow the
// merchant wire protocol.
type CreateOrderRequest struct {
	PayID     Text `json:"payId"`
	Param     Text `json:"param"`
	Type      Text `json:"type"`
	Price     Text `json:"price"`
	Sign      Text `json:"sign"`
	NotifyURL Text `json:"notifyUrl"`
	ReturnURL Text `json:"returnUrl"`
	IsHTML    Text `json:"isHtml"`
}

func (r CreateOrderRequest) PaymentType() PaymentType {
	n, err := strconv.Atoi(strings.TrimSpace(string(r.Type)))
	if err != nil {
		return 0
	}
	return PaymentType(n)
}

func (r CreateOrderRequest) WantsHTML() bool {
	return strings.TrimSpace(string(r.IsHTML)) == "1"
}

func (r CreateOrderRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("payId", string(r.PayID)).Required().MaxLength(128)
	v.Field("type", string(r.Type)).Required()
	v.Field("price", string(r.Price)).Required()
	v.Field("sign", string(r.Sign)).Required()
	v.Field("param", string(r.Param)).MaxLength(1024)
	v.Field("notifyUrl", string(r.NotifyURL)).HTTPURL()
	v.Field("returnUrl", string(r.ReturnURL)).HTTPURL()
	if err := v.Validate(); err != nil {
		return err
	}

	if err := validation.ValidatePaymentType(int(r.PaymentType())); err != nil {
		return err
	}
	return validation.ValidatePrice(string(r.Price))
}

type CreateOrderResponse struct {
	PayID          string `json:"payId"`
	OrderID        string `json:"orderId"`
	PayType        int    `json:"payType"`
	Price          string `json:"price"`
	ReallyPrice    string `json:"reallyPrice"`
	PayURL         string `json:"payUrl"`
	IsAuto         bool   `json:"isAuto"`
	TimeoutMinutes int    `json:"timeoutMinutes"`
	CreatedAt      int64  `json:"createdAt"`
	RedirectURL    string `json:"redirectUrl"`
}

// OrderDetail is what the payment page renders.
type OrderDetail struct {
	PayID            string `json:"payId"`
	OrderID          string `json:"orderId"`
	PayType          int    `json:"payType"`
	Price            string `json:"price"`
	ReallyPrice      string `json:"reallyPrice"`
	PayURL           string `json:"payUrl"`
	IsAuto           bool   `json:"isAuto"`
	State            int    `json:"state"`
	StateText        string `json:"stateText"`
	TimeoutMinutes   int    `json:"timeoutMinutes"`
	CreatedAt        int64  `json:"createdAt"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	ReturnURL        string `json:"returnUrl"`
	Param            string `json:"param"`
	RedirectURL      string `json:"redirectUrl"`
}

type CheckResponse struct {
	OrderID          string `json:"orderId"`
	State            int    `json:"state"`
	StateText        string `json:"stateText"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	ReturnURL        string `json:"returnUrl"`
	Param            string `json:"param"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
}

type ReturnURLResponse struct {
	ReturnURL       string `json:"returnUrl"`
	ReturnURLNew    string `json:"returnUrlNew"`
	ReturnURLLegacy string `json:"returnUrlLegacy"`
	Mode            string `json:"mode"`
	Sign            string `json:"sign"`
	SignLegacy      string `json:"signLegacy"`
}

type ReissueResponse struct {
	OrderID         string `json:"orderId"`
	State           int    `json:"state"`
	Strategy        string `json:"strategy"`
	ReturnDelivered bool   `json:"returnDelivered"`
}

// AdminOrder is the full order view for the console.
type AdminOrder struct {
	ID              int64      `json:"id"`
	OrderID         string     `json:"orderId"`
	MerchantOrderID string     `json:"payId"`
	PayType         int        `json:"payType"`
	PayTypeText     string     `json:"payTypeText"`
	Price           string     `json:"price"`
	ReallyPrice     string     `json:"reallyPrice"`
	State           int        `json:"state"`
	StateText       string     `json:"stateText"`
	PayURL          string     `json:"payUrl"`
	IsAuto          bool       `json:"isAuto"`
	NotifyURL       string     `json:"notifyUrl"`
	ReturnURL       string     `json:"returnUrl"`
	Param           string     `json:"param"`
	Unattributed    bool       `json:"unattributed"`
	CreatedAt       time.Time  `json:"createdAt"`
	PaidAt          *time.Time `json:"paidAt,omitempty"`
	ClosedAt        *time.Time `json:"closedAt,omitempty"`
}

func NewAdminOrder(o *Order) AdminOrder {
	return AdminOrder{
		ID:              o.ID,
		OrderID:         o.OrderID,
		MerchantOrderID: o.MerchantOrderID,
		PayType:         int(o.PaymentType),
		PayTypeText:     o.PaymentType.String(),
		Price:           o.Price(),
		ReallyPrice:     o.SlotPrice(),
		State:           int(o.State),
		StateText:       o.State.String(),
		PayURL:          o.PayURL,
		IsAuto:          o.IsAuto,
		NotifyURL:       o.NotifyURL,
		ReturnURL:       o.ReturnURL,
		Param:           o.Param,
		Unattributed:    o.Unattributed,
		CreatedAt:       o.CreatedAt,
		PaidAt:          o.PaidAt,
		ClosedAt:        o.ClosedAt,
	}
}

type ListResponse struct {
	Total int64        `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Items []AdminOrder `json:"items"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type Stats struct {
	TotalOrders      int64 `json:"totalOrders" db:"total_orders"`
	TotalPaid        int64 `json:"totalPaid" db:"total_paid"`
	TotalAmountCents int64 `json:"totalAmountCents" db:"total_amount_cents"`
	TodayOrders      int64 `json:"todayOrders" db:"today_orders"`
	TodayPaid        int64 `json:"todayPaid" db:"today_paid"`
	TodayAmountCents int64 `json:"todayAmountCents" db:"today_amount_cents"`
	Pending          int64 `json:"pending" db:"pending"`
	NotifyFailed     int64 `json:"notifyFailed" db:"notify_failed"`
	Unattributed     int64 `json:"unattributed" db:"unattributed"`
}
