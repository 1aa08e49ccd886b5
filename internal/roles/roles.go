// Package roles maps free-text party role labels onto the closed set of role
// codes and flags labels that only ever carry placeholder data.
package roles

import (
	"strings"
	"unicode"
)

type Code string

const (
	Unknown                     Code = "unknown"
	MortgageLender              Code = "mortgage_lender"
	LoanOfficer                 Code = "loan_officer"
	QMLenderContact             Code = "qm_lender_contact"
	NonQMLenderContact          Code = "non_qm_lender_contact"
	PrivateLender               Code = "private_lender"
	AMCContact                  Code = "amc_contact"
	Realtor                     Code = "realtor"
	RealEstateBroker            Code = "real_estate_broker"
	Investor                    Code = "investor"
	RealEstateInvestor          Code = "real_estate_investor"
	AccreditedInvestor          Code = "accredited_investor"
	FundManager                 Code = "fund_manager"
	RegisteredInvestmentAdvisor Code = "registered_investment_advisor"
	CoGP                        Code = "co_gp"
	Attorney                    Code = "attorney"
	Appraiser                   Code = "appraiser"
	TitleCompany                Code = "title_company"
	Buyer                       Code = "buyer"
	Seller                      Code = "seller"
	Owner                       Code = "owner"
	Builder                     Code = "builder"
	GeneralContractor           Code = "general_contractor"
	DeleteFlag                  Code = "delete_flag"
	EnrichmentPlaceholder       Code = "enrichment_placeholder"
)

var junkCodes = map[Code]string{
	DeleteFlag:            "source marked the record for deletion",
	EnrichmentPlaceholder: "enrichment placeholder, not a real relationship",
}

var labels = map[string]Code{
	"lender":                        MortgageLender,
	"mortgage lender":               MortgageLender,
	"mortgage":                      MortgageLender,
	"bank":                          MortgageLender,
	"credit union":                  MortgageLender,
	"loan officer":                  LoanOfficer,
	"lo":                            LoanOfficer,
	"mortgage broker":               LoanOfficer,
	"qm lender":                     QMLenderContact,
	"qm lender contact":             QMLenderContact,
	"non qm lender":                 NonQMLenderContact,
	"nonqm lender":                  NonQMLenderContact,
	"non qm lender contact":         NonQMLenderContact,
	"private lender":                PrivateLender,
	"hard money lender":             PrivateLender,
	"hard money":                    PrivateLender,
	"amc":                           AMCContact,
	"amc contact":                   AMCContact,
	"appraisal management company":  AMCContact,
	"appraisal management":          AMCContact,
	"realtor":                       Realtor,
	"agent":                         Realtor,
	"real estate agent":             Realtor,
	"listing agent":                 Realtor,
	"buyers agent":                  Realtor,
	"broker":                        RealEstateBroker,
	"real estate broker":            RealEstateBroker,
	"investor":                      Investor,
	"real estate investor":          RealEstateInvestor,
	"rei":                           RealEstateInvestor,
	"accredited investor":           AccreditedInvestor,
	"fund manager":                  FundManager,
	"ria":                           RegisteredInvestmentAdvisor,
	"registered investment advisor": RegisteredInvestmentAdvisor,
	"co gp":                         CoGP,
	"cogp":                          CoGP,
	"attorney":                      Attorney,
	"lawyer":                        Attorney,
	"law firm":                      Attorney,
	"estate attorney":               Attorney,
	"appraiser":                     Appraiser,
	"title":                         TitleCompany,
	"title company":                 TitleCompany,
	"escrow":                        TitleCompany,
	"buyer":                         Buyer,
	"seller":                        Seller,
	"owner":                         Owner,
	"homeowner":                     Owner,
	"property owner":                Owner,
	"builder":                       Builder,
	"home builder":                  Builder,
	"contractor":                    GeneralContractor,
	"general contractor":            GeneralContractor,
	"gc":                            GeneralContractor,
	"delete":                        DeleteFlag,
	"to delete":                     DeleteFlag,
	"do not use":                    DeleteFlag,
	"remove":                        DeleteFlag,
	"duplicate":                     DeleteFlag,
	"enrichment":                    EnrichmentPlaceholder,
	"needs enrichment":              EnrichmentPlaceholder,
	"placeholder":                   EnrichmentPlaceholder,
	"zoominfo":                      EnrichmentPlaceholder,
	"apollo":                        EnrichmentPlaceholder,
	"unknown":                       Unknown,
	"other":                         Unknown,
}

type Result struct {
	// Code is what gets stored. Junk labels are stored as Unknown.
	Code    Code
	Label   string
	Matched bool
	Junk    bool
	Reason  string
}

// Map resolves a label. Unmapped labels resolve to Unknown with Matched=false
// so the caller can keep the original text.
func Map(label string) Result {
	key := normalize(label)
	res := Result{Code: Unknown, Label: strings.TrimSpace(label)}
	if key == "" {
		return res
	}
	code, ok := labels[key]
	if !ok {
		code, ok = labels[strings.ReplaceAll(key, " ", "")]
	}
	if !ok {
		return res
	}
	res.Matched = true
	if reason, junk := junkCodes[code]; junk {
		res.Junk = true
		res.Reason = "junk role " + string(code) + ": " + reason
		return res
	}
	res.Code = code
	return res
}

func IsJunk(code Code) bool {
	_, ok := junkCodes[code]
	return ok
}

func normalize(label string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(label) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '\'':
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
