package aws

import (
	"context"

	"subsidy-esign/internal/common/config"
	"subsidy-esign/internal/common/logger"
)

// Notifier sends operator mail through SES and failure alerts through SNS.
// A channel that is not configured is skipped silently.
type Notifier struct {
	mail  *SESClient
	alert *SNSClient
	log   logger.Logger
}

func NewNotifier(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	n := &Notifier{log: logger.Component(log, "notifications")}
	if cfg.SES.Enabled {
		c, err := NewSESClient(ctx, cfg.AWSRegion, cfg.SES.FromEmail, cfg.SES.ToAddresses)
		if err != nil {
			return nil, err
		}
		n.mail = c
	}
	if cfg.SNS.Enabled {
		c, err := NewSNSClient(ctx, cfg.AWSRegion, cfg.SNS.TopicARN)
		if err != nil {
			return nil, err
		}
		n.alert = c
	}
	return n, nil
}

func NewNotifierWithClients(mail *SESClient, alert *SNSClient, log logger.Logger) *Notifier {
	return &Notifier{mail: mail, alert: alert, log: logger.Component(log, "notifications")}
}

func (n *Notifier) Notify(ctx context.Context, subject, body string) error {
	if n == nil || n.mail == nil {
		return nil
	}
	id, err := n.mail.SendText(ctx, subject, body)
	if err != nil {
		return err
	}
	n.log.Debug("Notice sent", map[string]interface{}{"messageId": id, "subject": subject})
	return nil
}

func (n *Notifier) Alert(ctx context.Context, subject, message string, attrs map[string]string) error {
	if n == nil || n.alert == nil {
		return nil
	}
	id, err := n.alert.Publish(ctx, subject, message, attrs)
	if err != nil {
		return err
	}
	n.log.Debug("Alert published", map[string]interface{}{"messageId": id, "subject": subject})
	return nil
}
