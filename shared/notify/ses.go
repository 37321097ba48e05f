// Package notify delivers outbound email
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"
	"github.com/sirupsen/logrus"
)

// SESSender sends plain-text email through Amazon SES
type SESSender struct {
	client  sesiface.SESAPI
	from    string
	timeout time.Duration
}

// NewSESSender creates a sender with from as the source address
func NewSESSender(client sesiface.SESAPI, from string) *SESSender {
	return &SESSender{client: client, from: from, timeout: 5 * time.Second}
}

// Send delivers a single plain-text message to to
func (s *SESSender) Send(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.SendEmailWithContext(ctx, &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(to)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}
	return nil
}

// LogSender writes messages to the log instead of sending them. Used with
// EMAIL_TRANSPORT=log in local development.
type LogSender struct {
	Log logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, to, subject, body string) error {
	s.Log.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
		"body":    body,
	}).Info("Email not sent, log transport configured")
	return nil
}
