package notification

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"
)

// SMTPTransport delivers messages via SMTP using the go-mail library.
type SMTPTransport struct {
	config SMTPConfig
}

// NewSMTPTransport validates config and returns an SMTPTransport.
func NewSMTPTransport(config SMTPConfig) (*SMTPTransport, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &SMTPTransport{config: config}, nil
}

// Name returns the transport identifier.
func (t *SMTPTransport) Name() string { return "smtp" }

// Send delivers msg as a multipart text and HTML message. The generated
// Message-ID is returned as the delivery id.
func (t *SMTPTransport) Send(ctx context.Context, msg RenderedMessage) (Receipt, error) {
	m, id, err := newMailMsg(t.config.FromName, t.config.FromAddr, msg)
	if err != nil {
		return Receipt{}, Permanent(err)
	}

	opts := []mail.Option{
		mail.WithPort(t.config.Port),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(t.config.Encryption)),
	}
	if t.config.Encryption == "ssl_tls" {
		opts = append(opts, mail.WithSSL())
	}
	if t.config.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(t.config.Timeout))
	}
	if t.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(t.config.Username),
			mail.WithPassword(t.config.Password),
		)
	}

	c, err := mail.NewClient(t.config.Host, opts...)
	if err != nil {
		return Receipt{}, Permanent(fmt.Errorf("creating mail client: %w", err))
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return Receipt{}, classifySMTPError(err)
	}
	return Receipt{DeliveryID: id}, nil
}

// newMailMsg builds the MIME message shared by the SMTP and Gmail transports
// and returns it with its Message-ID.
func newMailMsg(fromName, fromAddr string, msg RenderedMessage) (*mail.Msg, string, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(fromName, fromAddr); err != nil {
		return nil, "", fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, "", fmt.Errorf("invalid recipient: %w", err)
	}

	id := uuid.NewString() + "@notifyd"
	m.SetMessageIDWithValue(id)
	m.SetDate()
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	}
	return m, "<" + id + ">", nil
}

// classifySMTPError maps relay replies to retry classes: 4xx transient,
// 5xx permanent. Network and unknown errors are transient.
func classifySMTPError(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		if sendErr.IsTemp() {
			return Transient(err)
		}
		switch code := sendErr.ErrorCode(); {
		case code >= 500:
			return Permanent(err)
		case code >= 400:
			return Transient(err)
		}
		if sendErr.Reason == mail.ErrSMTPMailFrom || sendErr.Reason == mail.ErrSMTPRcptTo {
			return Permanent(err)
		}
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if tpErr.Code >= 500 {
			return Permanent(err)
		}
		return Transient(err)
	}
	return Transient(err)
}

func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return mail.TLSMandatory
	case "starttls":
		return mail.TLSOpportunistic
	default:
		return mail.NoTLS
	}
}
