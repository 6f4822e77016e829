package enrollment

import "github.com/warp/campus-engine/schema"

var genders = []string{"Male", "Female", "Other"}

var serviceShape = schema.Shape{
	"required": {Kind: schema.Bool, Default: false},
	"option":   {Kind: schema.String, AllowEmpty: true, Default: ""},
}

// GuardianShape is the guardian descriptor of an admission.
var GuardianShape = schema.Shape{
	"father_name":       {Kind: schema.String, Required: true, MaxLen: 120},
	"mother_name":       {Kind: schema.String, Required: true, MaxLen: 120},
	"father_occupation": {Kind: schema.String, AllowEmpty: true, Default: ""},
	"mother_occupation": {Kind: schema.String, AllowEmpty: true, Default: ""},
	"contact":           {Kind: schema.String, Required: true, MaxLen: 32},
	"mother_contact":    {Kind: schema.String, AllowEmpty: true, Default: ""},
	"email":             {Kind: schema.String, AllowEmpty: true, Default: ""},
	"address":           {Kind: schema.String, Required: true},
	"nid":               {Kind: schema.String, AllowEmpty: true, Default: ""},
}

// StudentShape is one student descriptor of an admission. Photo is kept
// inline; large photos hit the store document limit.
var StudentShape = schema.Shape{
	"first_name":    {Kind: schema.String, Required: true, MaxLen: 120},
	"last_name":     {Kind: schema.String, AllowEmpty: true, Default: ""},
	"gender":        {Kind: schema.String, Required: true, Allowed: genders},
	"date_of_birth": {Kind: schema.Date, Required: true},
	"blood_group":   {Kind: schema.String, AllowEmpty: true, Default: ""},
	"class_id":      {Kind: schema.ID, Nullable: true},
	"section_id":    {Kind: schema.ID, Nullable: true},
	"transport":     {Kind: schema.Object, Fields: serviceShape},
	"hostel":        {Kind: schema.Object, Fields: serviceShape},
	"photo":         {Kind: schema.String, AllowEmpty: true},
	"note":          {Kind: schema.String, AllowEmpty: true, Default: ""},
	"password":      {Kind: schema.String, AllowEmpty: true},
}

// EnrollShape is the admission payload.
var EnrollShape = schema.Shape{
	"organization_id": {Kind: schema.ID},
	"guardian_id":     {Kind: schema.ID, AllowEmpty: true},
	"academic_year":   {Kind: schema.String, Required: true},
	"admission_date":  {Kind: schema.Date, Required: true},
	"guardian":        {Kind: schema.Object, Required: true, Fields: GuardianShape},
	"students": {Kind: schema.Array, Required: true, MinItems: 1, Items: &schema.Field{
		Kind: schema.Object, Fields: StudentShape,
	}},
}

var guardianPatchShape = schema.Shape{
	"father_name":       {Kind: schema.String},
	"mother_name":       {Kind: schema.String},
	"father_occupation": {Kind: schema.String, AllowEmpty: true},
	"mother_occupation": {Kind: schema.String, AllowEmpty: true},
	"contact":           {Kind: schema.String, MaxLen: 32},
	"mother_contact":    {Kind: schema.String, AllowEmpty: true},
	"email":             {Kind: schema.String, AllowEmpty: true},
	"address":           {Kind: schema.String},
	"nid":               {Kind: schema.String, AllowEmpty: true},
}

var studentPatchShape = schema.Shape{
	"id":               {Kind: schema.ID, Required: true},
	"first_name":       {Kind: schema.String},
	"last_name":        {Kind: schema.String, AllowEmpty: true},
	"gender":           {Kind: schema.String, Allowed: genders},
	"date_of_birth":    {Kind: schema.Date},
	"blood_group":      {Kind: schema.String, AllowEmpty: true},
	"class_id":         {Kind: schema.ID, Nullable: true},
	"section_id":       {Kind: schema.ID, Nullable: true},
	"roll_number":      {Kind: schema.String, AllowEmpty: true},
	"admission_status": {Kind: schema.String},
	"note":             {Kind: schema.String, AllowEmpty: true},
}

// AdmissionUpdateShape is the admission edit payload.
var AdmissionUpdateShape = schema.Shape{
	"guardian_id": {Kind: schema.ID, Required: true},
	"guardian":    {Kind: schema.Object, Fields: guardianPatchShape},
	"students":    {Kind: schema.Array, Items: &schema.Field{Kind: schema.Object, Fields: studentPatchShape}},
}
