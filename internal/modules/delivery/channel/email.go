package channel

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/mailfeed/mailfeed/internal/modules/delivery/domain"
	userdomain "github.com/mailfeed/mailfeed/internal/modules/user/domain"
	"github.com/mailfeed/mailfeed/internal/security"
	"github.com/wneessen/go-mail"
)

// EmailSender delivers batches over the user's own SMTP account. The
// stored SMTP password is decrypted per send and never retained.
type EmailSender struct {
	encryptor *security.Encryptor
}

func NewEmailSender(encryptor *security.Encryptor) *EmailSender {
	return &EmailSender{encryptor: encryptor}
}

func (s *EmailSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, user *userdomain.User, batch *domain.Batch) error {
	if user.SendEmail == "" {
		return newSendError(KindInvalidDestination, domain.ChannelEmail,
			errors.New("user has no destination email configured"))
	}
	if user.SMTP.Host == "" {
		return newSendError(KindInvalidDestination, domain.ChannelEmail,
			errors.New("user has no smtp host configured"))
	}

	msg, err := s.buildMessage(user, batch)
	if err != nil {
		return newSendError(KindInvalidDestination, domain.ChannelEmail, err)
	}

	client, err := s.buildClient(user)
	if err != nil {
		return newSendError(KindInvalidDestination, domain.ChannelEmail, err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return newSendError(classifyEmailError(err), domain.ChannelEmail, err)
	}
	return nil
}

func (s *EmailSender) buildMessage(user *userdomain.User, batch *domain.Batch) (*mail.Msg, error) {
	msg := mail.NewMsg()

	from := user.SMTP.FromEmail
	if from == "" {
		from = user.SMTP.Username
	}
	if user.SMTP.FromName != "" {
		if err := msg.FromFormat(user.SMTP.FromName, from); err != nil {
			return nil, err
		}
	} else if err := msg.From(from); err != nil {
		return nil, err
	}
	if err := msg.To(user.SendEmail); err != nil {
		return nil, err
	}

	msg.Subject(fmt.Sprintf("%s: %d new items", batch.Title(), len(batch.Entries)))
	msg.SetBodyString(mail.TypeTextPlain, renderEmailText(batch))
	msg.AddAlternativeString(mail.TypeTextHTML, renderEmailHTML(batch))
	return msg, nil
}

func (s *EmailSender) buildClient(user *userdomain.User) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(user.SMTP.Port),
	}
	if user.SMTP.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if user.SMTP.Username != "" {
		password, err := s.encryptor.Decrypt(user.SMTP.Password)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user.SMTP.Username),
			mail.WithPassword(password),
		)
	}

	return mail.NewClient(user.SMTP.Host, opts...)
}

// renderEmailHTML renders the batch as the HTML body. Item descriptions
// come from the feed document and are passed through as HTML; titles and
// authors are escaped.
func renderEmailHTML(batch *domain.Batch) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(batch.Title()))

	for _, entry := range batch.Entries {
		if entry.LinkOnly {
			fmt.Fprintf(&b, "<p><a href=\"%s\">%s</a></p>\n",
				entry.Item.Link, html.EscapeString(entry.Item.Link))
			continue
		}
		fmt.Fprintf(&b, "<h3><a href=\"%s\">%s</a></h3>\n",
			entry.Item.Link, html.EscapeString(entry.Item.Title))
		fmt.Fprintf(&b, "<p><em>%s", entry.Item.PubDate.Format("Jan 2, 2006 15:04"))
		if entry.Item.Author != "" {
			fmt.Fprintf(&b, " &middot; %s", html.EscapeString(entry.Item.Author))
		}
		b.WriteString("</em></p>\n")
		if entry.Item.Description != "" {
			fmt.Fprintf(&b, "<div>%s</div>\n", entry.Item.Description)
		}
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

func renderEmailText(batch *domain.Batch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", batch.Title())
	for _, entry := range batch.Entries {
		if entry.LinkOnly {
			fmt.Fprintf(&b, "- %s\n", entry.Item.Link)
			continue
		}
		fmt.Fprintf(&b, "- %s\n  %s\n  %s\n", entry.Item.Title, entry.Item.Link,
			entry.Item.PubDate.Format("Jan 2, 2006 15:04"))
	}
	return b.String()
}

// classifyEmailError maps a transport failure to an ErrorKind. go-mail
// does not type SMTP AUTH rejections, so classification goes by the
// server response text.
func classifyEmailError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUnreachable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth"):
		return KindAuthFailure
	case strings.Contains(msg, "rate"), strings.Contains(msg, "too many"):
		return KindRateLimited
	case strings.Contains(msg, "recipient"), strings.Contains(msg, "address"):
		return KindInvalidDestination
	}
	return KindUnreachable
}
