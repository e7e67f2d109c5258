package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subsidy-esign/internal/common/logger"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

type fakeSNS struct {
	inputs []*sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

// ==========================
// Notifier Tests
// ==========================

func TestNotifier_SendsMail(t *testing.T) {
	api := &fakeSES{}
	n := NewNotifierWithClients(NewSESClientWithAPI(api, "noreply@example.nl", []string{"ops@example.nl"}), nil, logger.NewTestLogger(t))

	require.NoError(t, n.Notify(context.Background(), "Signed: APP-1", "All signatures collected"))
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "noreply@example.nl", aws.ToString(in.Source))
	assert.Equal(t, []string{"ops@example.nl"}, in.Destination.ToAddresses)
	assert.Equal(t, "Signed: APP-1", aws.ToString(in.Message.Subject.Data))
	assert.Equal(t, "All signatures collected", aws.ToString(in.Message.Body.Text.Data))
}

func TestNotifier_MailErrorReturned(t *testing.T) {
	api := &fakeSES{err: errors.New("throttled")}
	n := NewNotifierWithClients(NewSESClientWithAPI(api, "a@b.nl", []string{"c@d.nl"}), nil, logger.NewTestLogger(t))
	err := n.Notify(context.Background(), "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestNotifier_NoRecipients(t *testing.T) {
	n := NewNotifierWithClients(NewSESClientWithAPI(&fakeSES{}, "a@b.nl", nil), nil, logger.NewTestLogger(t))
	assert.Error(t, n.Notify(context.Background(), "s", "b"))
}

func TestNotifier_PublishesAlert(t *testing.T) {
	api := &fakeSNS{}
	n := NewNotifierWithClients(nil, NewSNSClientWithAPI(api, "arn:aws:sns:eu-west-1:1:esign"), logger.NewTestLogger(t))

	subject := strings.Repeat("x", 120)
	require.NoError(t, n.Alert(context.Background(), subject, "upload failed", map[string]string{"provider": "docusign"}))
	require.Len(t, api.inputs, 1)
	in := api.inputs[0]
	assert.Equal(t, "arn:aws:sns:eu-west-1:1:esign", aws.ToString(in.TopicArn))
	assert.Len(t, aws.ToString(in.Subject), 100)
	assert.Equal(t, "docusign", aws.ToString(in.MessageAttributes["provider"].StringValue))
}

func TestNotifier_DisabledChannelsAreSkipped(t *testing.T) {
	n := NewNotifierWithClients(nil, nil, logger.NewTestLogger(t))
	assert.NoError(t, n.Notify(context.Background(), "s", "b"))
	assert.NoError(t, n.Alert(context.Background(), "s", "m", nil))

	var nilNotifier *Notifier
	assert.NoError(t, nilNotifier.Alert(context.Background(), "s", "m", nil))
}
