// Package template renders escalation notices for each channel from embedded
// templates. Email gets a subject plus text and HTML bodies; SMS, Telegram
// and Slack get one compact block with a truncated message excerpt.
package template

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
	"unicode/utf8"

	"queryguard/internal/notifications/core"
	"queryguard/internal/types"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const (
	DefaultExcerptRunes = 120
	DefaultSMSMaxRunes  = 320
	// Telegram rejects messages longer than 4096 characters.
	telegramMaxRunes = 4096
	ellipsis         = "…"
)

// Config holds renderer settings.
type Config struct {
	// BaseURL prefixes deep links: BaseURL + "/queries/" + id.
	BaseURL      string
	ExcerptRunes int
	SMSMaxRunes  int
}

// Renderer implements core.Renderer.
type Renderer struct {
	baseURL      string
	excerptRunes int
	maxRunes     map[types.Channel]int

	subject   *texttemplate.Template
	textBody  *texttemplate.Template
	htmlBody  *htmltemplate.Template
	shortBody *texttemplate.Template
}

var _ core.Renderer = (*Renderer)(nil)

type tierStyle struct {
	marker        string
	markerColor   string
	label         string
	headline      string
	subjectAction string
}

var tierStyles = map[types.Tier]tierStyle{
	types.TierCustomerSupport: {
		label:         "Customer Support",
		headline:      "New customer query awaiting a response",
		subjectAction: "awaiting response",
	},
	types.TierManager: {
		marker:        "[URGENT] ",
		markerColor:   "#d97706",
		label:         "Manager",
		headline:      "Customer query escalated to Manager: Customer Support has not responded",
		subjectAction: "escalated to Manager",
	},
	types.TierCEO: {
		marker:        "[CRITICAL] ",
		markerColor:   "#dc2626",
		label:         "CEO",
		headline:      "Customer query escalated to CEO: Manager has not responded",
		subjectAction: "escalated to CEO",
	},
}

type templateData struct {
	ID            string
	Name          string
	Email         string
	Phone         string
	Subject       string
	Message       string
	Excerpt       string
	Elapsed       string
	Link          string
	Marker        string
	MarkerColor   string
	TierLabel     string
	Headline      string
	SubjectAction string
}

// New parses the embedded templates.
func New(cfg Config) (*Renderer, error) {
	r := &Renderer{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		excerptRunes: cfg.ExcerptRunes,
		maxRunes: map[types.Channel]int{
			types.ChannelSMS:      cfg.SMSMaxRunes,
			types.ChannelTelegram: telegramMaxRunes,
		},
	}
	if r.excerptRunes <= 0 {
		r.excerptRunes = DefaultExcerptRunes
	}
	if r.maxRunes[types.ChannelSMS] <= 0 {
		r.maxRunes[types.ChannelSMS] = DefaultSMSMaxRunes
	}

	var err error
	if r.subject, err = parseText("email_subject.tmpl"); err != nil {
		return nil, err
	}
	if r.textBody, err = parseText("email_body.txt.tmpl"); err != nil {
		return nil, err
	}
	if r.shortBody, err = parseText("short.txt.tmpl"); err != nil {
		return nil, err
	}
	if r.htmlBody, err = htmltemplate.ParseFS(templateFS, "templates/email_body.html.tmpl"); err != nil {
		return nil, fmt.Errorf("renderer: parse email_body.html.tmpl: %w", err)
	}
	return r, nil
}

func parseText(name string) (*texttemplate.Template, error) {
	t, err := texttemplate.ParseFS(templateFS, "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("renderer: parse %s: %w", name, err)
	}
	return t, nil
}

// Render produces content for q at tier on ch. now drives the elapsed-time
// figure.
func (r *Renderer) Render(q *types.Query, tier types.Tier, ch types.Channel, now time.Time) (core.Content, error) {
	if q == nil {
		return core.Content{}, fmt.Errorf("renderer: query is nil")
	}
	style, ok := tierStyles[tier]
	if !ok {
		return core.Content{}, fmt.Errorf("renderer: unknown tier %q", tier)
	}
	data := r.buildData(q, style, now)

	if !ch.IsShortMessage() {
		return r.renderEmail(data)
	}
	return r.renderShort(data, ch)
}

// DeepLink returns the operator URL for a query.
func (r *Renderer) DeepLink(id string) string {
	return r.baseURL + "/queries/" + id
}

func (r *Renderer) buildData(q *types.Query, style tierStyle, now time.Time) templateData {
	d := templateData{
		ID:            q.ID,
		Name:          q.Name,
		Email:         q.Email,
		Message:       q.Message,
		Elapsed:       FormatElapsed(now.Sub(q.CreatedAt)),
		Link:          r.DeepLink(q.ID),
		Marker:        style.marker,
		MarkerColor:   style.markerColor,
		TierLabel:     style.label,
		Headline:      style.headline,
		SubjectAction: style.subjectAction,
	}
	if q.Phone != nil {
		d.Phone = *q.Phone
	}
	if q.Subject != nil {
		d.Subject = *q.Subject
	}
	d.Excerpt = Excerpt(q.Message, r.excerptRunes)
	return d
}

func (r *Renderer) renderEmail(d templateData) (core.Content, error) {
	var subj, text, html bytes.Buffer
	if err := r.subject.Execute(&subj, d); err != nil {
		return core.Content{}, fmt.Errorf("renderer: email subject: %w", err)
	}
	if err := r.textBody.Execute(&text, d); err != nil {
		return core.Content{}, fmt.Errorf("renderer: email text body: %w", err)
	}
	if err := r.htmlBody.Execute(&html, d); err != nil {
		return core.Content{}, fmt.Errorf("renderer: email html body: %w", err)
	}
	return core.Content{
		Subject:  strings.Join(strings.Fields(subj.String()), " "),
		Body:     strings.TrimSpace(text.String()) + "\n",
		HTMLBody: html.String(),
	}, nil
}

// renderShort renders the compact block. When a channel bound is exceeded
// the excerpt is shortened by the overflow and the block re-rendered; a hard
// cut is the last resort.
func (r *Renderer) renderShort(d templateData, ch types.Channel) (core.Content, error) {
	body, err := r.execShort(d)
	if err != nil {
		return core.Content{}, err
	}

	if limit := r.maxRunes[ch]; limit > 0 {
		if over := utf8.RuneCountInString(body) - limit; over > 0 {
			budget := utf8.RuneCountInString(d.Excerpt) - over
			if budget > 1 {
				d.Excerpt = Excerpt(flatten(d.Excerpt), budget)
				if body, err = r.execShort(d); err != nil {
					return core.Content{}, err
				}
			}
			body = truncateRunes(body, limit)
		}
	}
	return core.Content{Body: body}, nil
}

func (r *Renderer) execShort(d templateData) (string, error) {
	var buf bytes.Buffer
	if err := r.shortBody.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("renderer: short message: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Excerpt flattens whitespace in s and cuts it to at most n runes, ending
// with an ellipsis when shortened.
func Excerpt(s string, n int) string {
	return truncateRunes(flatten(s), n)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n-1]), " ") + ellipsis
}

// FormatElapsed renders a duration as "45m", "2h 5m" or "3d 4h".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	mins := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
