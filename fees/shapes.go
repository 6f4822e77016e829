package fees

import "github.com/warp/campus-engine/schema"

var (
	monthField = schema.Field{Kind: schema.String, AllowEmpty: true, Default: "", Allowed: Months}
	zeroOrMore = schema.Float(0)
)

// CreateShape is the invoice creation payload. Status and due amount are
// accepted for compatibility and ignored; both are derived.
var CreateShape = schema.Shape{
	"student_id":      {Kind: schema.ID, Required: true},
	"fee_item_id":     {Kind: schema.ID, Required: true},
	"month":           monthField,
	"year":            {Kind: schema.Integer, Required: true, Min: schema.Float(2000), Max: schema.Float(2100)},
	"amount":          {Kind: schema.Number, Required: true, Min: zeroOrMore},
	"paid_amount":     {Kind: schema.Number, Default: 0, Min: zeroOrMore},
	"payment_date":    {Kind: schema.Date, Nullable: true},
	"transaction_ref": {Kind: schema.String, AllowEmpty: true, Default: ""},
	"remarks":         {Kind: schema.String, AllowEmpty: true, Default: ""},
	"status":          {Kind: schema.String, AllowEmpty: true},
	"due_amount":      {Kind: schema.Number, Nullable: true},
}

// UpdateShape is the invoice update payload.
var UpdateShape = schema.Shape{
	"amount":          {Kind: schema.Number, Min: zeroOrMore},
	"paid_amount":     {Kind: schema.Number, Min: zeroOrMore},
	"status":          {Kind: schema.String, Allowed: []string{string(StatusPending), string(StatusPartial), string(StatusPaid), string(StatusOverdue)}},
	"payment_date":    {Kind: schema.Date},
	"transaction_ref": {Kind: schema.String, AllowEmpty: true},
	"remarks":         {Kind: schema.String, AllowEmpty: true},
}
