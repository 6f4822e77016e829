package payroll

import (
	"time"

	"github.com/warp/campus-engine/schema"
)

var nonNegative = schema.Float(0)

// StaffShape is the staff registration payload.
var StaffShape = schema.Shape{
	"organization_id": {Kind: schema.ID},
	"name":            {Kind: schema.String, Required: true, MaxLen: 120},
	"designation":     {Kind: schema.String, AllowEmpty: true, Default: ""},
	"phone":           {Kind: schema.String, AllowEmpty: true, Default: ""},
}

// StructureShape is the compensation structure payload.
var StructureShape = schema.Shape{
	"staff_id":            {Kind: schema.ID, Required: true},
	"basic_salary":        {Kind: schema.Number, Required: true, Min: nonNegative},
	"house_rent":          {Kind: schema.Number, Default: 0, Min: nonNegative},
	"medical_allowance":   {Kind: schema.Number, Default: 0, Min: nonNegative},
	"transport_allowance": {Kind: schema.Number, Default: 0, Min: nonNegative},
	"other_allowance":     {Kind: schema.Number, Default: 0, Min: nonNegative},
	"effective_from":      {Kind: schema.Date, Required: true},
}

// PaymentShape is the salary payment payload.
var PaymentShape = schema.Shape{
	"staff_id":                  {Kind: schema.ID, Required: true},
	"compensation_structure_id": {Kind: schema.ID, AllowEmpty: true},
	"month":                     {Kind: schema.Integer, Required: true, Min: schema.Float(1), Max: schema.Float(12)},
	"year":                      {Kind: schema.Integer, Required: true, Min: schema.Float(2000), Max: schema.Float(2100)},
	"gross":                     {Kind: schema.Number, Required: true, Min: nonNegative},
	"deductions":                {Kind: schema.Number, Default: 0, Min: nonNegative},
	"payment_date": {Kind: schema.Date, Default: func() any {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}},
	"method":          {Kind: schema.String, Required: true, Allowed: []string{string(MethodBank), string(MethodMobileBanking), string(MethodCash)}},
	"transaction_ref": {Kind: schema.String, AllowEmpty: true, Default: ""},
	"note":            {Kind: schema.String, AllowEmpty: true, Default: ""},
	"status":          {Kind: schema.String, Default: string(PaymentPaid), Allowed: []string{string(PaymentPaid), string(PaymentPending)}},
}
