package extractor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AmountTolerance is the largest accepted rounding difference between a
// stated amount and the amount computed from its parts
const AmountTolerance = 0.02

// tolerance slack for float representation error at the boundary
const toleranceEpsilon = 1e-9

// Amount is a monetary value. It decodes from a JSON number or a numeric
// string such as "12.50" or "$1,200.00".
type Amount float64

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid amount %s", data)
	}
	*a = Amount(f)
	return nil
}

// LineItem is one row of an invoice
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   Amount  `json:"unit_price"`
	Total       Amount  `json:"total"`
}

// Invoice is the structured form of an invoice document
type Invoice struct {
	VendorName    string     `json:"vendor_name"`
	InvoiceNumber *string    `json:"invoice_number,omitempty"`
	LineItems     []LineItem `json:"line_items"`
	TotalAmount   Amount     `json:"total_amount"`
}

// LineItemsTotal sums the line item totals
func (inv *Invoice) LineItemsTotal() float64 {
	var sum float64
	for _, item := range inv.LineItems {
		sum += float64(item.Total)
	}
	return sum
}

// InvoiceSchema validates Invoice payloads
type InvoiceSchema struct{}

var _ Schema = InvoiceSchema{}

// Name implements Schema
func (InvoiceSchema) Name() string { return "invoice" }

// Definition implements Schema
func (InvoiceSchema) Definition() string { return invoiceDefinition }

const invoiceDefinition = `{
  "title": "Invoice",
  "type": "object",
  "properties": {
    "vendor_name": {"type": "string", "description": "The name of the vendor or company issuing the invoice."},
    "invoice_number": {"type": "string", "description": "The unique identifier for the invoice."},
    "line_items": {
      "type": "array",
      "description": "A list of all line items on the invoice.",
      "items": {
        "title": "LineItem",
        "type": "object",
        "properties": {
          "description": {"type": "string", "description": "The description of the line item."},
          "quantity": {"type": "number", "description": "The quantity of the line item."},
          "unit_price": {"type": "number", "description": "The unit price of the line item."},
          "total": {"type": "number", "description": "The total price for the line item."}
        },
        "required": ["description", "quantity", "unit_price", "total"]
      }
    },
    "total_amount": {"type": "number", "description": "The final total amount of the invoice."}
  },
  "required": ["vendor_name", "line_items", "total_amount"]
}`

// presence-tracking decode targets
type rawLineItem struct {
	Description *string  `json:"description"`
	Quantity    *float64 `json:"quantity"`
	UnitPrice   *Amount  `json:"unit_price"`
	Total       *Amount  `json:"total"`
}

type rawInvoice struct {
	VendorName    *string       `json:"vendor_name"`
	InvoiceNumber *string       `json:"invoice_number"`
	LineItems     []rawLineItem `json:"line_items"`
	TotalAmount   *Amount       `json:"total_amount"`
}

// Validate implements Schema. Every problem is reported, not just the first.
func (InvoiceSchema) Validate(data json.RawMessage) (any, *ValidationError) {
	var p problems
	var raw rawInvoice
	if err := json.Unmarshal(data, &raw); err != nil {
		p.addf("invoice", "invalid: %v", err)
		return nil, p.err()
	}

	inv := &Invoice{InvoiceNumber: raw.InvoiceNumber}

	if raw.VendorName == nil || strings.TrimSpace(*raw.VendorName) == "" {
		p.addf("vendor_name", "field required")
	} else {
		inv.VendorName = strings.TrimSpace(*raw.VendorName)
	}

	if len(raw.LineItems) == 0 {
		p.addf("line_items", "at least one line item is required")
	}
	for i, item := range raw.LineItems {
		field := fmt.Sprintf("line_items.%d", i)
		missing := false
		if item.Description == nil {
			p.addf(field+".description", "field required")
			missing = true
		}
		if item.Quantity == nil {
			p.addf(field+".quantity", "field required")
			missing = true
		}
		if item.UnitPrice == nil {
			p.addf(field+".unit_price", "field required")
			missing = true
		}
		if item.Total == nil {
			p.addf(field+".total", "field required")
			missing = true
		}
		if missing {
			continue
		}

		li := LineItem{
			Description: *item.Description,
			Quantity:    *item.Quantity,
			UnitPrice:   *item.UnitPrice,
			Total:       *item.Total,
		}
		expected := li.Quantity * float64(li.UnitPrice)
		if math.Abs(float64(li.Total)-expected) > AmountTolerance+toleranceEpsilon {
			p.addf(field+".total", "line item total %.2f does not match quantity * unit_price %.2f", float64(li.Total), expected)
		}
		inv.LineItems = append(inv.LineItems, li)
	}

	if raw.TotalAmount == nil {
		p.addf("total_amount", "field required")
	} else {
		inv.TotalAmount = *raw.TotalAmount
		// only meaningful when every line item decoded
		if len(inv.LineItems) > 0 && len(inv.LineItems) == len(raw.LineItems) {
			sum := inv.LineItemsTotal()
			if math.Abs(float64(inv.TotalAmount)-sum) > AmountTolerance+toleranceEpsilon {
				p.addf("total_amount", "total amount %.2f does not match the sum of line items %.2f", float64(inv.TotalAmount), sum)
			}
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return inv, nil
}
