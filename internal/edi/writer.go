package edi

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// X12 005010X221A1 constants.
const (
	versionCode       = "005010X221A1"
	functionalGroupID = "HP"
	transactionSetID  = "835"
)

// Writer serialises a RemittanceAdvice into an ANSI X12 835 interchange.
// NewWriter sets the standard delimiters (~ segment, * element,
// > component); sites can override the fields before writing. The fields
// are used as they stand, so a zero Writer has empty delimiters.
type Writer struct {
	SegmentTerminator  string
	ElementSeparator   string
	ComponentSeparator string
}

// NewWriter returns a Writer with the default delimiter set.
func NewWriter() *Writer {
	return &Writer{
		SegmentTerminator:  "~",
		ElementSeparator:   "*",
		ComponentSeparator: ">",
	}
}

// Write produces the full interchange: ISA GS ST BPR TRN N1(PR) [N3 N4]
// N1(PE) [N3 N4] (CLP [CAS...] NM1 [SVC [CAS...]]...)... SE GE IEA.
// SE01 is the count of segments from ST through SE inclusive.
func (w *Writer) Write(r *RemittanceAdvice) ([]byte, error) {
	if len(r.Claims) == 0 {
		return nil, fmt.Errorf("remittance advice has no claim payments")
	}
	if len(r.InterchangeControlNumber) != 9 {
		return nil, fmt.Errorf("interchange control number must be 9 digits, got %q", r.InterchangeControlNumber)
	}

	var b strings.Builder

	usage := "T"
	if r.Production {
		usage = "P"
	}

	w.seg(&b,
		"ISA", "00", strings.Repeat(" ", 10), "00", strings.Repeat(" ", 10),
		"ZZ", pad15(r.SenderID), "ZZ", pad15(r.ReceiverID),
		r.CreatedAt.Format("060102"), r.CreatedAt.Format("1504"),
		"U", "00501", r.InterchangeControlNumber, "0", usage, w.ComponentSeparator,
	)
	w.seg(&b,
		"GS", functionalGroupID, r.SenderID, r.ReceiverID,
		r.CreatedAt.Format("20060102"), r.CreatedAt.Format("1504"),
		r.GroupControlNumber, "X", versionCode,
	)

	// Segments between ST and SE inclusive are counted for SE01.
	var ts []string
	tsSeg := func(elements ...string) {
		ts = append(ts, strings.Join(elements, w.ElementSeparator))
	}

	setControl := "0001"
	tsSeg("ST", transactionSetID, setControl)
	tsSeg("BPR", "I", cents(r.TotalPaidAmount), "C", "CHK", "", "", "", "", "", "", "", "", "", "", "",
		r.PaymentDate.Format("20060102"))
	tsSeg("TRN", "1", r.CheckNumber, "1"+r.SenderID)

	tsSeg("N1", "PR", r.Payer.Name)
	if r.Payer.HasAddress() {
		tsSeg(n3Elements(r.Payer)...)
		tsSeg("N4", r.Payer.City, r.Payer.State, r.Payer.ZipCode)
	}
	tsSeg("N1", "PE", r.Payee.Name, "XX", r.Payee.ID)
	if r.Payee.HasAddress() {
		tsSeg(n3Elements(r.Payee)...)
		tsSeg("N4", r.Payee.City, r.Payee.State, r.Payee.ZipCode)
	}

	for _, c := range r.Claims {
		tsSeg("CLP", c.ClaimID, c.StatusCode, cents(c.ChargeAmount), cents(c.PaidAmount),
			cents(c.PatientResponsibility), c.FilingIndicatorCode)
		for _, adj := range c.Adjustments {
			tsSeg("CAS", adj.GroupCode, adj.ReasonCode, cents(adj.Amount))
		}
		tsSeg("NM1", "QC", "1", c.PatientLastName, c.PatientFirstName, "", "", "", "MI", c.PatientID)
		for _, svc := range c.Services {
			tsSeg("SVC", "N4"+w.ComponentSeparator+svc.ProcedureCode, cents(svc.ChargeAmount), cents(svc.PaidAmount))
			for _, adj := range svc.Adjustments {
				tsSeg("CAS", adj.GroupCode, adj.ReasonCode, cents(adj.Amount))
			}
		}
	}

	tsSeg("SE", fmt.Sprintf("%d", len(ts)+1), setControl)

	for _, s := range ts {
		b.WriteString(s)
		b.WriteString(w.SegmentTerminator)
	}

	w.seg(&b, "GE", "1", r.GroupControlNumber)
	w.seg(&b, "IEA", "1", r.InterchangeControlNumber)

	return []byte(b.String()), nil
}

func (w *Writer) seg(b *strings.Builder, elements ...string) {
	b.WriteString(strings.Join(elements, w.ElementSeparator))
	b.WriteString(w.SegmentTerminator)
}

func n3Elements(p Party) []string {
	if p.AddressLine2 != "" {
		return []string{"N3", p.AddressLine1, p.AddressLine2}
	}
	return []string{"N3", p.AddressLine1}
}

// cents renders a monetary amount as an integer cent count: x100, half-up,
// no decimal point.
func cents(d decimal.Decimal) string {
	return d.Shift(2).Round(0).String()
}

func pad15(id string) string {
	if len(id) > 15 {
		return id[:15]
	}
	return strings.Repeat(" ", 15-len(id)) + id
}
