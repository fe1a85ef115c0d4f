package export

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

var certificateTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"dollars": func(cents int64) string {
			sign := ""
			if cents < 0 {
				sign = "-"
				cents = -cents
			}
			return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
		},
	}

	certificateTemplate = template.Must(template.New("certificate").Funcs(funcMap).Parse(certificateHTML))
}

// RenderCertificateHTML renders the certificate template with provided data
func RenderCertificateHTML(cert Certificate) (string, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, cert); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const certificateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.KindLabel}} {{.ApplicationID}}</title>
  <style>
    body { font-family: Georgia, 'Times New Roman', serif; color: #222; max-width: 720px; margin: 3rem auto; }
    .border { border: 4px double #1a5632; padding: 3rem; text-align: center; }
    h1 { font-size: 1.8rem; letter-spacing: 0.12em; text-transform: uppercase; color: #1a5632; margin-bottom: 0; }
    .municipality { font-size: 1.1rem; color: #555; margin-top: 0.25rem; }
    .holder { font-size: 1.5rem; margin: 2rem 0 0.5rem; }
    .title { font-style: italic; margin-bottom: 2rem; }
    .detail { display: flex; justify-content: space-between; border-top: 1px solid #ccc; padding: 0.5rem 0; font-size: 0.95rem; text-align: left; }
    .detail .label { color: #666; }
    .serial { margin-top: 2.5rem; font-size: 0.8rem; color: #888; letter-spacing: 0.08em; }
  </style>
</head>
<body>
  <div class="border">
    <h1>{{.KindLabel}}</h1>
    <div class="municipality">{{.MunicipalityName}}</div>

    <div class="holder">{{.HolderName}}</div>
    <div class="title">{{.Title}}</div>

    <div class="detail"><span class="label">Issued</span><span>{{formatDate .IssuedAt "January 2, 2006"}}</span></div>
    {{if .ApprovedBy}}<div class="detail"><span class="label">Approved by</span><span>{{.ApprovedBy}}</span></div>{{end}}
    {{if .TotalPaidCents}}<div class="detail"><span class="label">Fees paid</span><span>{{dollars .TotalPaidCents}}</span></div>{{end}}

    <div class="serial">Certificate {{.ApplicationID}}</div>
  </div>
</body>
</html>`
