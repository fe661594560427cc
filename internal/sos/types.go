package sos

import (
	"encoding/json"
	"strconv"
)

// Ref is a {id, name} reference embedded in SOS documents (customer,
// location, line item, and so on).
type Ref struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// OrderLine is one line of a sales order. Like SalesOrder, it keeps every
// field it does not model in extra: the PUT replaces whole lines, so a
// dropped tax or uom block would be cleared remotely on every merge.
type OrderLine struct {
	LineNumber  int     `json:"lineNumber"`
	Item        *Ref    `json:"item"`
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitprice"`
	Amount      float64 `json:"amount"`
	DueDate     string  `json:"duedate,omitempty"`

	extra map[string]json.RawMessage
}

// knownLineFields are the keys handled by OrderLine's named fields.
var knownLineFields = map[string]bool{
	"lineNumber": true, "item": true, "description": true,
	"quantity": true, "unitprice": true, "amount": true, "duedate": true,
}

func (l *OrderLine) UnmarshalJSON(data []byte) error {
	type alias OrderLine
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownLineFields[k] {
			delete(raw, k)
		}
	}
	a.extra = raw

	*l = OrderLine(a)
	return nil
}

// MarshalJSON emits the named fields plus every echoed extra field, so a
// line read from the service round-trips intact through the PUT.
func (l OrderLine) MarshalJSON() ([]byte, error) {
	type alias OrderLine
	base, err := json.Marshal(alias(l))
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range l.extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}

	return json.Marshal(merged)
}

// ItemID returns the line's item id as a string, or "" when the line has
// no item reference. Line matching is done on this string form.
func (l *OrderLine) ItemID() string {
	if l.Item == nil {
		return ""
	}
	return strconv.Itoa(l.Item.ID)
}

// Item is the per-item record returned by GET /item/{id}. BasePrice is the
// unit price used when building order lines.
type Item struct {
	ID        int     `json:"id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	BasePrice float64 `json:"basePrice"`
}

// SalesOrder is a sales order document. The named fields are the ones the
// engine reads or writes; every other field the service returns is kept in
// extra so a PUT echoes the full writable document back unchanged. The
// service treats PUT as a whole-document replace, so dropping a field here
// would silently clear it remotely.
type SalesOrder struct {
	ID              int             `json:"id,omitempty"`
	Number          string          `json:"number"`
	Date            string          `json:"date,omitempty"`
	TransactionDate string          `json:"transactionDate,omitempty"`
	Customer        *Ref            `json:"customer,omitempty"`
	Location        *Ref            `json:"location,omitempty"`
	CustomerPO      string          `json:"customerPO,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	Billing         json.RawMessage `json:"billing,omitempty"`
	Shipping        json.RawMessage `json:"shipping,omitempty"`
	Closed          bool            `json:"closed"`
	Archived        bool            `json:"archived"`
	Lines           []OrderLine     `json:"lines"`

	extra map[string]json.RawMessage
}

// knownOrderFields are the keys handled by the named struct fields above.
var knownOrderFields = map[string]bool{
	"id": true, "number": true, "date": true, "transactionDate": true,
	"customer": true, "location": true, "customerPO": true, "comment": true,
	"billing": true, "shipping": true, "closed": true, "archived": true,
	"lines": true,
}

// readOnlyOrderFields are set by the service and rejected (or worse,
// misapplied) when sent back on a PUT.
var readOnlyOrderFields = map[string]bool{
	"id": true, "syncToken": true, "total": true, "subTotal": true,
	"taxAmount": true, "lastSync": true, "lastModified": true,
	"createdBy": true, "createdDate": true, "starred": true,
	"summaryOnly": true,
}

// NextLineNumber returns max(existing line numbers) + 1, starting at 1 for
// an order with no lines.
func (o *SalesOrder) NextLineNumber() int {
	max := 0
	for i := range o.Lines {
		if o.Lines[i].LineNumber > max {
			max = o.Lines[i].LineNumber
		}
	}
	return max + 1
}

func (o *SalesOrder) UnmarshalJSON(data []byte) error {
	type alias SalesOrder
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if knownOrderFields[k] {
			delete(raw, k)
		}
	}
	a.extra = raw

	*o = SalesOrder(a)
	return nil
}

// MarshalJSON produces the PUT/POST body: named fields plus every echoed
// extra field, with the service's read-only fields stripped.
func (o SalesOrder) MarshalJSON() ([]byte, error) {
	type alias SalesOrder
	base, err := json.Marshal(alias(o))
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range o.extra {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	for k := range readOnlyOrderFields {
		delete(merged, k)
	}

	return json.Marshal(merged)
}

// Shipment is the POST /shipment payload built from a sales order.
type Shipment struct {
	ID              int             `json:"id,omitempty"`
	Number          string          `json:"number"`
	Date            string          `json:"date"`
	ShipBy          string          `json:"shipBy,omitempty"`
	Customer        *Ref            `json:"customer"`
	Location        *Ref            `json:"location"`
	CustomerPO      string          `json:"customerPO,omitempty"`
	CustomerMessage string          `json:"customerMessage,omitempty"`
	Comment         string          `json:"comment,omitempty"`
	Billing         json.RawMessage `json:"billing,omitempty"`
	Shipping        json.RawMessage `json:"shipping,omitempty"`
	ShippingAmount  float64         `json:"shippingAmount"`
	LinkedTx        *LinkedTx       `json:"linkedTransaction,omitempty"`
	Lines           []OrderLine     `json:"lines"`
}

// LinkedTx ties a shipment back to the sales order it fulfills.
type LinkedTx struct {
	ID              int    `json:"id"`
	TransactionType string `json:"transactionType"`
	RefNumber       string `json:"refNumber"`
}

// listEnvelope is the wrapper every SOS list endpoint returns.
type listEnvelope struct {
	Count      int             `json:"count"`
	TotalCount int             `json:"totalCount"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

// objectEnvelope wraps single-object responses; some endpoints return the
// object bare, so Data may be absent.
type objectEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
