package form

import (
	"fmt"

	"github.com/nhle/registry-submit/internal/model"
)

// Selectors locates the registration form controls by CSS selector.
type Selectors struct {
	// Start is the control that opens the entry form once the page loads.
	Start string

	// PhoneInput is a format string taking the zero-based slot ordinal.
	PhoneInput string

	// AddNumber reveals the next phone slot.
	AddNumber string

	Category        string
	ContactName     string
	ContactPhone    string
	ContactEmail    string
	CompanyName     string
	CompanyAddress  string
	City            string
	State           string
	Zip             string
	CompanyURL      string
	ServiceProvider string
	CallCount       string
	Note            string

	// SendCode triggers the OTP email.
	SendCode string

	Passcode string
	Submit   string

	// Feedback holds the confirmation identifier after submission.
	Feedback string
}

// DefaultSelectors returns the selectors of the national registry form.
func DefaultSelectors() Selectors {
	return Selectors{
		Start:           "#nextButton",
		PhoneInput:      "#enterprise_phone_%d",
		AddNumber:       "#add-number-command",
		Category:        "#enterprise_category",
		ContactName:     "#enterprise_contact_name",
		ContactPhone:    "#enterprise_contact_phone",
		ContactEmail:    "#enterprise_contact_email",
		CompanyName:     "#enterprise_company_name",
		CompanyAddress:  "#enterprise_company_address_line_1",
		City:            "#enterprise_company_address_city",
		State:           "#enterprise_company_address_state",
		Zip:             "#enterprise_company_address_zip",
		CompanyURL:      "#enterprise_company_url",
		ServiceProvider: "#enterprise_service_provider",
		CallCount:       "#call_count",
		Note:            "#additional_feedback",
		SendCode:        "#send-verification-code",
		Passcode:        "#captcha",
		Submit:          "#submitButton",
		Feedback:        ".feedback-id",
	}
}

func (s Selectors) phone(slot int) string {
	return fmt.Sprintf(s.PhoneInput, slot)
}

// staticField is one profile value entered after the phone numbers.
type staticField struct {
	selector string
	value    string
	choose   bool
}

// staticFields lists the profile values in form order. Empty text values
// are left untouched.
func (s Selectors) staticFields(p model.FormProfile) []staticField {
	return []staticField{
		{s.Category, p.Category, true},
		{s.ContactName, p.ContactName, false},
		{s.ContactPhone, p.ContactPhone, false},
		{s.ContactEmail, p.ContactEmail, false},
		{s.CompanyName, p.CompanyName, false},
		{s.CompanyAddress, p.CompanyAddress, false},
		{s.City, p.City, false},
		{s.State, p.State, true},
		{s.Zip, p.Zip, false},
		{s.CompanyURL, p.CompanyURL, false},
		{s.ServiceProvider, p.ServiceProvider, false},
		{s.CallCount, p.CallCount, false},
		{s.Note, p.Note, false},
	}
}
