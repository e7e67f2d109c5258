package validation

const generalDataSchema = `{
  "type": "object",
  "required": ["companyName", "kvkNumber"],
  "properties": {
    "companyName": {"type": "string", "minLength": 1, "maxLength": 200},
    "kvkNumber": {"type": "string", "pattern": "^[0-9]{8}$"},
    "address": {"type": "string"},
    "postalCode": {"type": "string"},
    "city": {"type": "string"},
    "signerName": {"type": "string"},
    "signerFunction": {"type": "string"},
    "email": {"type": "string"},
    "place": {"type": "string"},
    "date": {"type": "string"}
  }
}`

const partySchema = `{
  "type": "object",
  "required": ["companyName", "kvkNumber", "name", "email"],
  "properties": {
    "companyName": {"type": "string", "minLength": 1},
    "kvkNumber": {"type": "string", "pattern": "^[0-9]{8}$"},
    "name": {"type": "string", "minLength": 1},
    "function": {"type": "string"},
    "email": {"type": "string", "format": "email"}
  }
}`

var intakeSchemas = map[string]string{
	"de-minimis": `{
  "type": "object",
  "required": ["selectedOption", "generalData"],
  "properties": {
    "selectedOption": {"type": "integer", "enum": [1, 2, 3]},
    "generalData": ` + generalDataSchema + `,
    "option2": {
      "type": "object",
      "properties": {
        "amountYear1": {"type": "string"},
        "amountYear2": {"type": "string"},
        "amountYear3": {"type": "string"}
      }
    },
    "option3": {
      "type": "object",
      "required": ["regulation", "amount"],
      "properties": {
        "regulation": {"type": "string", "minLength": 1},
        "grantingAuthority": {"type": "string"},
        "amount": {"type": "string", "minLength": 1}
      }
    }
  }
}`,
	"mandate": `{
  "type": "object",
  "required": ["applicant", "representative"],
  "properties": {
    "applicant": ` + partySchema + `,
    "representative": ` + partySchema + `,
    "scope": {"type": "string"},
    "validUntil": {"type": "string"},
    "place": {"type": "string"},
    "date": {"type": "string"}
  }
}`,
	"sme-declaration": `{
  "type": "object",
  "required": ["generalData", "metrics"],
  "properties": {
    "generalData": ` + generalDataSchema + `,
    "metrics": {
      "type": "object",
      "required": ["employees", "turnover", "balanceSheetTotal", "isIndependent"],
      "properties": {
        "employees": {"type": ["number", "string"]},
        "turnover": {"type": ["number", "string"]},
        "balanceSheetTotal": {"type": ["number", "string"]},
        "isIndependent": {"type": "boolean"},
        "referenceYear": {"type": "string"}
      }
    }
  }
}`,
}

// NewIntakeSchemas returns the schema set for every intake form kind.
func NewIntakeSchemas() *SchemaSet {
	return NewSchemaSet(intakeSchemas)
}
