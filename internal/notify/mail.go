package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"
)

const (
	TemplateSuspended     = "suspended"
	TemplateUnsuspended   = "unsuspended"
	TemplateGrant         = "grant"
	TemplateRefund        = "refund"
	TemplatePaymentFailed = "payment_failed"
)

//go:embed templates templates/_base.gohtml templates/_base.txt
var templateFS embed.FS

type Message struct {
	To           mail.Address
	Subject      string
	TemplateName string
	TemplateData any

	TextContent string
	HTMLContent string
}

// Mailer delivers rendered messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type tmplEntry struct {
	text *texttmpl.Template
	html *htmltmpl.Template
}

var (
	templates map[string]tmplEntry
	tmplOnce  sync.Once
	tmplErr   error
)

func parseTemplates() {
	templates = make(map[string]tmplEntry)
	names, err := fs.Glob(templateFS, "templates/*")
	if err != nil {
		tmplErr = err
		return
	}
	for _, fp := range names {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		entry := templates[name]
		switch ext {
		case ".txt":
			t, err := texttmpl.New(fname).Option("missingkey=error").ParseFS(templateFS, "templates/_base.txt", fp)
			if err != nil {
				tmplErr = fmt.Errorf("parse %s: %w", fname, err)
				return
			}
			entry.text = t
		case ".gohtml":
			t, err := htmltmpl.New(fname).Option("missingkey=error").ParseFS(templateFS, "templates/_base.gohtml", fp)
			if err != nil {
				tmplErr = fmt.Errorf("parse %s: %w", fname, err)
				return
			}
			entry.html = t
		}
		templates[name] = entry
	}
}

// Render fills TextContent and HTMLContent from the named template.
func (m *Message) Render() error {
	if m.TemplateName == "" {
		return nil
	}
	tmplOnce.Do(parseTemplates)
	if tmplErr != nil {
		return tmplErr
	}
	entry, ok := templates[m.TemplateName]
	if !ok {
		return fmt.Errorf("unknown email template %q", m.TemplateName)
	}
	if entry.text != nil {
		var buf bytes.Buffer
		if err := entry.text.ExecuteTemplate(&buf, "base", m.TemplateData); err != nil {
			return err
		}
		m.TextContent = buf.String()
	}
	if entry.html != nil {
		var buf bytes.Buffer
		if err := entry.html.ExecuteTemplate(&buf, "base", m.TemplateData); err != nil {
			return err
		}
		m.HTMLContent = buf.String()
	}
	return nil
}

func (m *Message) HasContent() bool {
	return m.TextContent != "" || m.HTMLContent != ""
}

type SuspendedData struct {
	Name   string
	Reason string
}

type GrantData struct {
	Name      string
	Tier      string
	Days      int
	ExpiresOn string
}

type RefundData struct {
	Name   string
	Amount string
}

type PaymentFailedData struct {
	Name      string
	PortalURL string
}

// FormatCents renders an amount like "$12.50".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
