package edi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party is a payer or payee as it appears in the N1 loop.
type Party struct {
	Name         string
	ID           string
	AddressLine1 string
	AddressLine2 string
	City         string
	State        string
	ZipCode      string
}

// HasAddress reports whether the party carries enough address data for
// N3/N4 segments.
func (p Party) HasAddress() bool {
	return p.AddressLine1 != "" && p.City != ""
}

// Adjustment is one CAS claim or service level adjustment.
type Adjustment struct {
	GroupCode  string
	ReasonCode string
	Amount     decimal.Decimal
}

// ServiceLine is one SVC loop under a claim payment.
type ServiceLine struct {
	ProcedureCode string
	ChargeAmount  decimal.Decimal
	PaidAmount    decimal.Decimal
	Adjustments   []Adjustment
}

// ClaimPayment is one CLP loop: a claim and the amounts paid against it.
type ClaimPayment struct {
	ClaimID             string
	StatusCode          string
	ChargeAmount        decimal.Decimal
	PaidAmount          decimal.Decimal
	PatientResponsibility decimal.Decimal
	FilingIndicatorCode string
	PatientLastName     string
	PatientFirstName    string
	PatientID           string
	Adjustments         []Adjustment
	Services            []ServiceLine
}

// RemittanceAdvice is the fully assembled value the writer turns into an
// X12 835 interchange.
type RemittanceAdvice struct {
	SenderID   string // ISA06 / GS02, left-padded to 15 in the ISA
	ReceiverID string // ISA08 / GS03

	// InterchangeControlNumber is a 9-digit zero-padded unique value; the
	// transaction set control number always starts at 0001.
	InterchangeControlNumber string
	GroupControlNumber       string

	Production bool // ISA15 P vs T

	Payer Party
	Payee Party

	CheckNumber     string // TRN02
	TotalPaidAmount decimal.Decimal
	PaymentDate     time.Time
	CreatedAt       time.Time

	Claims []ClaimPayment
}
