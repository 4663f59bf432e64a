package lending

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/acervoteatro/acervo/internal/model"
)

// MinistryOther is the ministry whose name is given in OtherMinistry.
const MinistryOther = "Outro"

// LoanDetails is the borrower-supplied part of a loan.
type LoanDetails struct {
	BorrowerName  string `json:"borrower_name" validate:"required"`
	DueDate       string `json:"due_date" validate:"required,datetime=2006-01-02"`
	Ministry      string `json:"ministry" validate:"required"`
	OtherMinistry string `json:"other_ministry" validate:"required_if=Ministry Outro"`
	Reason        string `json:"reason"`
	Consent       bool   `json:"consent" validate:"required"`
	Photo         []byte `json:"photo" validate:"required,min=1"`
	Signature     []byte `json:"signature" validate:"required,min=1"`
}

// ReturnDetails describes the item as handed back.
type ReturnDetails struct {
	Condition    string `json:"condition"`
	Observations string `json:"observations"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// normalize trims free-text fields.
func (d LoanDetails) normalize() LoanDetails {
	d.BorrowerName = strings.TrimSpace(d.BorrowerName)
	d.DueDate = strings.TrimSpace(d.DueDate)
	d.Ministry = strings.TrimSpace(d.Ministry)
	d.OtherMinistry = strings.TrimSpace(d.OtherMinistry)
	d.Reason = strings.TrimSpace(d.Reason)
	return d
}

// Validate reports every missing or invalid field as a *model.ValidationError.
func (d LoanDetails) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &model.ValidationError{Fields: fields}
}

// dueDate parses DueDate as a calendar day in UTC.
func (d LoanDetails) dueDate() (time.Time, error) {
	return time.Parse(time.DateOnly, d.DueDate)
}

// ministry returns the ministry to record, resolving "Outro".
func (d LoanDetails) ministry() string {
	if d.Ministry == MinistryOther && d.OtherMinistry != "" {
		return d.OtherMinistry
	}
	return d.Ministry
}
