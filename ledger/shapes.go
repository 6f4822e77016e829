package ledger

import "github.com/warp/campus-engine/schema"

// OpenAccountShape is the account creation payload.
var OpenAccountShape = schema.Shape{
	"organization_id": {Kind: schema.ID},
	"name":            {Kind: schema.String, Required: true, MaxLen: 120},
	"type":            {Kind: schema.String, Required: true, Allowed: []string{string(AccountCash), string(AccountBank), string(AccountMobileBanking)}},
	"account_number":  {Kind: schema.String, AllowEmpty: true, Default: ""},
	"opening_balance": {Kind: schema.Number, Default: 0},
}

// PostShape is the posting payload.
var PostShape = schema.Shape{
	"type":                   {Kind: schema.String, Required: true, Allowed: []string{string(TxIncome), string(TxExpense), string(TxTransfer)}},
	"category":               {Kind: schema.String, Required: true},
	"account_id":             {Kind: schema.ID, Required: true},
	"transfer_to_account_id": {Kind: schema.ID, AllowEmpty: true},
	"amount":                 {Kind: schema.Number, Required: true, Min: schema.Float(0)},
	"date":                   {Kind: schema.Date, Required: true},
	"description":            {Kind: schema.String, AllowEmpty: true, Default: ""},
	"reference_id":           {Kind: schema.String, AllowEmpty: true, Default: ""},
}
