package payment

import (
	"html/template"
	"strings"
)

// DefaultGatewayURL is the CMI hosted payment page.
const DefaultGatewayURL = "https://payment.cmi.co.ma/fim/est3Dgate"

const formID = "cmi_payment_form"

var formTemplate = template.Must(template.New("cmi").Parse(
	`<form action="{{.Action}}" method="POST" name="pay_form" id="` + formID + `">` +
		`{{range .Fields}}<input type="hidden" name="{{.Name}}" value="{{.Value}}">{{end}}` +
		`</form>` +
		`<script>document.getElementById("` + formID + `").submit();</script>`,
))

// RenderForm produces a self-submitting HTML form carrying every field
// verbatim and in order. An empty action targets DefaultGatewayURL.
func RenderForm(fields Fields, action string) (string, error) {
	if strings.TrimSpace(action) == "" {
		action = DefaultGatewayURL
	}
	var sb strings.Builder
	err := formTemplate.Execute(&sb, struct {
		Action string
		Fields Fields
	}{Action: action, Fields: fields})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}
