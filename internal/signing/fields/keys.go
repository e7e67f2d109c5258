package fields

// Logical field keys shared by every catalog. Provider and template catalogs
// bind these to their own field names.
const (
	KeyCompanyName    = "company_name"
	KeyKvKNumber      = "kvk_number"
	KeyAddress        = "address"
	KeyPostalCode     = "postal_code"
	KeyCity           = "city"
	KeySignerName     = "signer_name"
	KeySignerFunction = "signer_function"
	KeyEmail          = "email"
	KeyPlace          = "place"
	KeyDate           = "date"

	KeyAidOption          = "aid_option"
	KeyAidAmountYear1     = "aid_amount_year1"
	KeyAidAmountYear2     = "aid_amount_year2"
	KeyAidAmountYear3     = "aid_amount_year3"
	KeyOtherAidRegulation = "other_aid_regulation"
	KeyOtherAidAuthority  = "other_aid_authority"
	KeyOtherAidAmount     = "other_aid_amount"

	KeyApplicantCompanyName      = "applicant_company_name"
	KeyApplicantKvKNumber        = "applicant_kvk_number"
	KeyApplicantName             = "applicant_name"
	KeyApplicantFunction         = "applicant_function"
	KeyApplicantEmail            = "applicant_email"
	KeyRepresentativeCompanyName = "representative_company_name"
	KeyRepresentativeKvKNumber   = "representative_kvk_number"
	KeyRepresentativeName        = "representative_name"
	KeyRepresentativeFunction    = "representative_function"
	KeyRepresentativeEmail       = "representative_email"
	KeyMandateScope              = "mandate_scope"
	KeyMandateValidUntil         = "mandate_valid_until"

	KeyEmployees         = "employees"
	KeyTurnover          = "turnover"
	KeyBalanceSheetTotal = "balance_sheet_total"
	KeyIndependent       = "independent"
	KeySizeCategory      = "size_category"
)

// Radio option values for KeyAidOption, indexed by the intake's selectedOption.
var AidOptionValues = map[int]string{
	1: "NoAid",
	2: "AidReceived",
	3: "OtherAid",
}

// Signer ids used for signer-bound tabs.
const (
	RecipientApplicant      = "1"
	RecipientRepresentative = "2"
)
