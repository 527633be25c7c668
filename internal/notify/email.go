package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/telemetry"
	"tagwatch/internal/release"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/codes"
)

type EmailOptions struct {
	Server   string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

type sendMail func(mail *email.Email, addr string, auth smtp.Auth) error

// Email delivers releases as emails over smtp.
type Email struct {
	opts EmailOptions
	send sendMail
	tel  telemetry.API
}

func NewEmail(opts EmailOptions, tel telemetry.API) Email {
	assert.NotNil(tel, "tel")
	assert.NotEmptyStr(opts.Server, "smtp server")
	if opts.Username == "" {
		opts.Username = opts.From
	}
	return Email{
		opts: opts,
		send: (*email.Email).Send,
		tel:  telemetry.NewScopedAPI("email", tel),
	}
}

func (e Email) mail(ctx context.Context, subject, text, html string) error {
	ctx, span := tracer.Start(ctx, "Email.mail")
	defer span.End()

	err := ctx.Err()
	if err != nil {
		return err
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("tagwatch <%s>", e.opts.From)
	mail.To = e.opts.To
	mail.Subject = subject
	mail.Text = []byte(text)
	if html != "" {
		mail.HTML = []byte(html)
	}

	addr := fmt.Sprintf("%s:%d", e.opts.Server, e.opts.Port)
	var auth smtp.Auth
	if e.opts.Password != "" {
		auth = smtp.PlainAuth("", e.opts.Username, e.opts.Password, e.opts.Server)
	}
	err = e.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

func (e Email) Deliver(ctx context.Context, metadata release.Metadata) error {
	subject := fmt.Sprintf("New release: %s by %s", metadata.Title, metadata.Artist)
	html := strings.ReplaceAll(FormatReleaseHtml(metadata, 0), "\n", "<br>\n")
	return e.mail(ctx, subject, FormatReleaseText(metadata), html)
}

func (e Email) Announce(ctx context.Context, text string) error {
	subject, _, _ := strings.Cut(text, "\n")
	return e.mail(ctx, "tagwatch: "+subject, text, "")
}
