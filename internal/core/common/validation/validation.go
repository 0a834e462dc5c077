package validation

import (
	"fmt"
	"net/url"
	"strings"

	errors "github.com/frahmantamala/qrpay/internal"
	"github.com/frahmantamala/qrpay/internal/core/money"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		missing := false
		switch v := value.(type) {
		case string:
			missing = strings.TrimSpace(v) == ""
		case int:
			missing = v == 0
		case int64:
			missing = v == 0
		case *string:
			missing = v == nil || strings.TrimSpace(*v) == ""
		}
		if missing {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s is required", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok && len(v) > max {
			message := fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max)
			return errors.NewValidationFieldError(fv.FieldName, message, errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

// OneOf accepts only the listed integer values.
func (fv *FieldValidator) OneOf(code errors.ErrorCode, allowed ...int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(int)
		if !ok {
			return nil
		}
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be one of %v", fv.FieldName, allowed), code)
	})
	return fv
}

// PositiveAmount accepts a decimal string greater than zero and no larger
// than money.MaxAmount.
func (fv *FieldValidator) PositiveAmount() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := money.Parse(v)
		if err != nil || !d.IsPositive() {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be a positive number", fv.FieldName), errors.ErrCodeInvalidAmount)
		}
		if d.GreaterThan(money.MaxAmount) {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must not exceed %s", fv.FieldName, money.MaxAmount.StringFixed(2)), errors.ErrCodeInvalidAmount)
		}
		return nil
	})
	return fv
}

// HTTPURL accepts an empty value or an absolute http(s) URL.
func (fv *FieldValidator) HTTPURL() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" {
			return nil
		}
		u, err := url.Parse(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.NewValidationFieldError(fv.FieldName, fmt.Sprintf("%s must be an http(s) url", fv.FieldName), errors.ErrCodeValidationFailed)
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

// Validate stops at the first failing rule of each field and reports all
// failing fields together. When every failure shares one code the result
// carries that code, so callers can map it to a specific rejection.
func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			if err := validator(field.Value); err != nil {
				if details, ok := err.Details.(errors.ValidationErrors); ok && len(details.Errors) > 0 {
					validationErrors = append(validationErrors, details.Errors...)
				} else {
					validationErrors = append(validationErrors, errors.ValidationError{
						Field:   field.FieldName,
						Message: err.Message,
						Code:    string(err.Code),
					})
				}
				break
			}
		}
	}

	if len(validationErrors) == 0 {
		return nil
	}

	code := errors.ErrorCode(validationErrors[0].Code)
	for _, ve := range validationErrors[1:] {
		if errors.ErrorCode(ve.Code) != code {
			code = errors.ErrCodeValidationFailed
			break
		}
	}
	return errors.NewValidationError(validationErrors[0].Message, code).
		WithDetails(errors.ValidationErrors{Errors: validationErrors})
}

// ValidatePaymentType accepts 1 (wechat) and 2 (alipay).
func ValidatePaymentType(paymentType int) *errors.AppError {
	validator := NewValidator()
	validator.Field("type", paymentType).
		OneOf(errors.ErrCodeInvalidPaymentType, 1, 2)
	return validator.Validate()
}

func ValidatePrice(price string) *errors.AppError {
	validator := NewValidator()
	validator.Field("price", price).
		Required().
		PositiveAmount()
	return validator.Validate()
}
