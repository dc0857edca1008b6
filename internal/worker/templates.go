package worker

import (
	"strings"
	"text/template"

	"github.com/shopspring/decimal"
)

// Each event type has a customer message and optionally an operations
// message, defined as "<type>/<audience>/subject" and ".../body".
const mailTemplates = `
{{define "order.created/customer/subject"}}We received your order {{.OrderNumber}}{{end}}
{{define "order.created/customer/body"}}Hi {{name .CustomerName}},

Thank you for your order {{.OrderNumber}} of {{.ItemCount}} item(s), total Rs. {{money .TotalAmount}}.
{{if eq .PaymentMethod "cod"}}You will pay on delivery.{{else}}We will confirm it as soon as your payment goes through.{{end}}

Track it at {{.SiteURL}}/orders/{{.OrderNumber}}
{{end}}

{{define "order.created/ops/subject"}}New order {{.OrderNumber}} (Rs. {{money .TotalAmount}}){{end}}
{{define "order.created/ops/body"}}Order {{.OrderNumber}} was placed by {{.CustomerName}} <{{.CustomerEmail}}>.
Payment method: {{.PaymentMethod}}. Items: {{.ItemCount}}. Total: Rs. {{money .TotalAmount}}.
{{end}}

{{define "order.status_changed/customer/subject"}}Your order {{.OrderNumber}} is {{.Status}}{{end}}
{{define "order.status_changed/customer/body"}}Hi {{name .CustomerName}},

Your order {{.OrderNumber}} moved from {{.PreviousStatus}} to {{.Status}}.

Track it at {{.SiteURL}}/orders/{{.OrderNumber}}
{{end}}

{{define "order.payment_failed/customer/subject"}}Payment for order {{.OrderNumber}} did not go through{{end}}
{{define "order.payment_failed/customer/body"}}Hi {{name .CustomerName}},

We could not confirm the payment for order {{.OrderNumber}}, so the order was cancelled.
If any amount was debited it will be returned by your bank. Your items are one click away:
{{.SiteURL}}/orders/{{.OrderNumber}}
{{end}}

{{define "order.feedback_requested/customer/subject"}}How was your order {{.OrderNumber}}?{{end}}
{{define "order.feedback_requested/customer/body"}}Hi {{name .CustomerName}},

We hope your gift made someone smile. Tell us how we did:
{{.SiteURL}}/orders/{{.OrderNumber}}/feedback
{{end}}

{{define "cart.abandoned/customer/subject"}}You left something in your cart{{end}}
{{define "cart.abandoned/customer/body"}}Hi {{name .CustomerName}},

Your cart still holds {{.ItemCount}} item(s). Pick up where you left off:
{{.SiteURL}}/cart
{{end}}

{{define "refund.failed/ops/subject"}}Refund failed for order {{.OrderNumber}}{{end}}
{{define "refund.failed/ops/body"}}Refund {{.Reference}} for order {{.OrderNumber}} failed at the payment gateway.
Customer: {{.CustomerName}} <{{.CustomerEmail}}>. Order total: Rs. {{money .TotalAmount}}.
Manual action is required.
{{end}}
`

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"name": func(s string) string {
		if s = strings.TrimSpace(s); s == "" {
			return "there"
		}
		return s
	},
}

func parseTemplates() *template.Template {
	return template.Must(template.New("mail").Funcs(funcs).Parse(mailTemplates))
}
