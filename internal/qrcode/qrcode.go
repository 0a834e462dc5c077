// Package qrcode keeps the registry of fixed-amount payment QR codes. A
// registered code lets a payer scan a QR that already carries the exact slot
// amount instead of typing it in.
package qrcode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/common/validation"
	qrcodeDatamodel "github.com/frahmantamala/qrpay/internal/core/datamodel/qrcode"
	"github.com/frahmantamala/qrpay/internal/core/money"
)

type QRCode struct {
	ID          int64
	PaymentType int
	PriceCents  int64
	PayURL      string
	Enabled     bool
	CreatedAt   time.Time
}

func FromDataModel(m *qrcodeDatamodel.PayQRCode) *QRCode {
	return &QRCode{
		ID:          m.ID,
		PaymentType: m.PaymentType,
		PriceCents:  m.PriceCents,
		PayURL:      m.PayURL,
		Enabled:     m.Enabled,
		CreatedAt:   m.CreatedAt,
	}
}

func (q *QRCode) ToDataModel() *qrcodeDatamodel.PayQRCode {
	return &qrcodeDatamodel.PayQRCode{
		ID:          q.ID,
		PaymentType: q.PaymentType,
		PriceCents:  q.PriceCents,
		PayURL:      q.PayURL,
		Enabled:     q.Enabled,
		CreatedAt:   q.CreatedAt,
	}
}

type RepositoryAPI interface {
	Create(ctx context.Context, q *qrcodeDatamodel.PayQRCode) error
	List(ctx context.Context, paymentType int) ([]qrcodeDatamodel.PayQRCode, error)
	Delete(ctx context.Context, id int64) (bool, error)
	EnabledInRange(ctx context.Context, paymentType int, minCents, maxCents int64) ([]qrcodeDatamodel.PayQRCode, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Add(ctx context.Context, req AddRequest) (*QRCode, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amount, err := money.Parse(req.Price)
	if err != nil {
		return nil, errors.ErrInvalidAmount.Clone()
	}
	cents, err := money.ToCents(amount)
	if err != nil {
		return nil, errors.ErrInvalidAmount.Clone()
	}
	row := &qrcodeDatamodel.PayQRCode{
		PaymentType: req.Type,
		PriceCents:  cents,
		PayURL:      strings.TrimSpace(req.PayURL),
		Enabled:     true,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		return nil, errors.NewStorageError("failed to save qr code", err)
	}

	s.logger.Info("qr code registered", "id", row.ID, "payment_type", row.PaymentType, "price_cents", row.PriceCents)
	return FromDataModel(row), nil
}

// List returns registered codes; a zero paymentType lists every type.
func (s *Service) List(ctx context.Context, paymentType int) ([]*QRCode, error) {
	rows, err := s.repo.List(ctx, paymentType)
	if err != nil {
		return nil, errors.NewStorageError("failed to list qr codes", err)
	}
	out := make([]*QRCode, len(rows))
	for i := range rows {
		out[i] = FromDataModel(&rows[i])
	}
	return out, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return errors.NewStorageError("failed to delete qr code", err)
	}
	if !deleted {
		return errors.NewNotFoundError(fmt.Sprintf("qr code %d not found", id), errors.ErrCodeQRCodeNotFound)
	}
	return nil
}

// PayURLs maps each amount in [minCents, maxCents] that has an enabled code
// to its URL. When several codes share an amount the newest wins.
func (s *Service) PayURLs(ctx context.Context, paymentType int, minCents, maxCents int64) (map[int64]string, error) {
	rows, err := s.repo.EnabledInRange(ctx, paymentType, minCents, maxCents)
	if err != nil {
		return nil, err
	}
	urls := make(map[int64]string, len(rows))
	for _, row := range rows {
		urls[row.PriceCents] = row.PayURL
	}
	return urls, nil
}

type AddRequest struct {
	Type   int    `json:"type"`
	Price  string `json:"price"`
	PayURL string `json:"payUrl"`
}

func (r AddRequest) Validate() *errors.AppError {
	v := validation.NewValidator()
	v.Field("price", r.Price).Required().PositiveAmount()
	v.Field("payUrl", r.PayURL).Required().MaxLength(2048)
	if err := v.Validate(); err != nil {
		return err
	}
	return validation.ValidatePaymentType(r.Type)
}

type Response struct {
	ID        int64     `json:"id"`
	Type      int       `json:"type"`
	Price     string    `json:"price"`
	PayURL    string    `json:"payUrl"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewResponse(q *QRCode) Response {
	return Response{
		ID:        q.ID,
		Type:      q.PaymentType,
		Price:     money.Format(q.PriceCents),
		PayURL:    q.PayURL,
		Enabled:   q.Enabled,
		CreatedAt: q.CreatedAt,
	}
}

type ListResponse struct {
	Items []Response `json:"items"`
}
