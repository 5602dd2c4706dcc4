// Package message renders the gateway's outbound message texts.
package message

import (
	"log"
	"strings"
	"text/template"
	"time"
)

// DefaultOTPTemplate is used when the caller supplies no template on issuance.
const DefaultOTPTemplate = "Your verification code is {{.Code}}. It expires in {{.Minutes}} minutes. Do not share it with anyone."

// DefaultConfirmationTemplate is the best-effort message sent after a successful verification.
const DefaultConfirmationTemplate = "Your number has been verified."

// contactCustomerTemplate confirms receipt of a contact-form submission to the customer.
const contactCustomerTemplate = "Hi {{.Name}}, thanks for reaching out! We received your message and will get back to you shortly."

// contactAdminTemplate notifies the admin number of a new submission.
const contactAdminTemplate = "New contact form submission\nName: {{.Name}}\nPhone: {{.Phone}}\nEmail: {{.Email}}\nMessage: {{.Message}}"

type otpData struct {
	Code    string
	Minutes int
}

// RenderOTP renders tmpl with the code and expiry substituted. An empty or
// malformed template falls back to DefaultOTPTemplate so a bad caller template
// never blocks delivery of the code.
func RenderOTP(tmpl, code string, ttl time.Duration) string {
	if strings.TrimSpace(tmpl) == "" {
		tmpl = DefaultOTPTemplate
	}
	data := otpData{Code: code, Minutes: int(ttl.Minutes())}

	out, err := render("otp", tmpl, data)
	if err != nil {
		log.Printf("message: bad OTP template, using default: %v", err)
		out, _ = render("otp", DefaultOTPTemplate, data)
	}
	// The code must reach the recipient even if the template ignores it.
	if !strings.Contains(out, code) {
		log.Print("message: OTP template omits the code, using default")
		out, _ = render("otp", DefaultOTPTemplate, data)
	}
	return out
}

// ContactData is the field set available to contact-form templates.
type ContactData struct {
	Name    string
	Phone   string
	Email   string
	Message string
}

// RenderContactCustomer renders the customer confirmation for a submission.
func RenderContactCustomer(d ContactData) string {
	out, err := render("contact_customer", contactCustomerTemplate, d)
	if err != nil {
		return "Thanks for reaching out! We received your message."
	}
	return out
}

// RenderContactAdmin renders the admin notification for a submission.
func RenderContactAdmin(d ContactData) string {
	out, err := render("contact_admin", contactAdminTemplate, d)
	if err != nil {
		return "New contact form submission from " + d.Phone
	}
	return out
}

func render(name, tmpl string, data any) (string, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
