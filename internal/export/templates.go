package export

import (
	"bytes"
	"html/template"
	"time"
)

var portfolioTemplate = template.Must(template.New("portfolio").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(portfolioHTML))

// TemplateData holds data for portfolio template rendering.
type TemplateData struct {
	ArtistName string
	Generated  time.Time
	Pieces     []Piece
}

// RenderPortfolioHTML renders the portfolio template with provided data.
func RenderPortfolioHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := portfolioTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const portfolioHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.ArtistName}} - Portfolio</title>
<style>
  body { font-family: Georgia, 'Times New Roman', serif; color: #2b2b2b; margin: 0; }
  .cover { text-align: center; padding: 180px 40px 40px; page-break-after: always; }
  .cover h1 { font-size: 34px; letter-spacing: 2px; margin-bottom: 8px; }
  .cover .sub { color: #8a6d3b; font-style: italic; }
  .piece { page-break-inside: avoid; margin: 28px 40px; }
  .piece img { max-width: 100%; max-height: 520px; display: block; margin: 0 auto; }
  .caption { text-align: center; margin-top: 10px; }
  .caption .title { font-size: 16px; }
  .caption .medium { font-size: 13px; color: #666; font-style: italic; }
  .footer { text-align: center; font-size: 11px; color: #999; margin-top: 40px; }
</style>
</head>
<body>
  <div class="cover">
    <h1>{{.ArtistName}}</h1>
    <div class="sub">Selected Works</div>
  </div>
  {{range .Pieces}}
  <div class="piece">
    <img src="{{.URL}}" alt="{{.Title}}">
    <div class="caption">
      <div class="title">{{.Title}}</div>
      <div class="medium">{{.Medium}}</div>
    </div>
  </div>
  {{end}}
  <div class="footer">Generated {{formatDate .Generated "January 2, 2006"}}</div>
</body>
</html>`
