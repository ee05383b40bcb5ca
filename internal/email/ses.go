package email

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/samber/oops"

	"github.com/smsinbox/site-api/internal/logging"
)

const sesSigningName = "ses"

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// SESConfig configures the SES v2 HTTP API sender.
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides https://email.<region>.amazonaws.com.
	Endpoint string
	From     string
}

// SESSender posts messages to the SES v2 outbound-emails endpoint and signs
// each request with AWS Signature Version 4.
type SESSender struct {
	httpClient  *http.Client
	credentials aws.CredentialsProvider
	signer      *v4.Signer
	region      string
	endpoint    string
	from        string
	logger      *logging.Logger
	now         func() time.Time
}

// NewSESSender resolves credentials from the static keys when both are set,
// otherwise from the default AWS chain.
func NewSESSender(ctx context.Context, cfg SESConfig, logger *logging.Logger) (*SESSender, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://email.%s.amazonaws.com", cfg.Region)
	}

	return &SESSender{
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		credentials: awsCfg.Credentials,
		signer:      v4.NewSigner(),
		region:      cfg.Region,
		endpoint:    endpoint,
		from:        cfg.From,
		logger:      logger,
		now:         time.Now,
	}, nil
}

type sesContent struct {
	Data    string `json:"Data"`
	Charset string `json:"Charset"`
}

type sesSendRequest struct {
	FromEmailAddress string `json:"FromEmailAddress"`
	Destination      struct {
		ToAddresses []string `json:"ToAddresses"`
	} `json:"Destination"`
	Content struct {
		Simple struct {
			Subject sesContent `json:"Subject"`
			Body    struct {
				HTML sesContent `json:"Html"`
				Text sesContent `json:"Text"`
			} `json:"Body"`
		} `json:"Simple"`
	} `json:"Content"`
}

func (s *SESSender) Send(ctx context.Context, msg Message) bool {
	if err := s.send(ctx, msg); err != nil {
		logging.GetLoggerFromContext(ctx).LogError("failed to send email via SES", err)
		return false
	}

	s.logger.InfoContext(ctx, "email sent", "provider", "ses", "to", logging.MaskEmail(msg.To))
	return true
}

func (s *SESSender) send(ctx context.Context, msg Message) error {
	var body sesSendRequest
	body.FromEmailAddress = s.from
	body.Destination.ToAddresses = []string{msg.To}
	body.Content.Simple.Subject = sesContent{Data: msg.Subject, Charset: "UTF-8"}
	body.Content.Simple.Body.HTML = sesContent{Data: msg.HTML, Charset: "UTF-8"}
	body.Content.Simple.Body.Text = sesContent{Data: msg.Text, Charset: "UTF-8"}

	payload, err := json.Marshal(body)
	if err != nil {
		return oops.Code("SES_ENCODE_FAILED").Wrap(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v2/email/outbound-emails", bytes.NewReader(payload))
	if err != nil {
		return oops.Code("SES_REQUEST_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	if s.credentials == nil {
		return oops.Code("SES_CREDENTIALS_FAILED").Errorf("no AWS credentials configured")
	}
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return oops.Code("SES_CREDENTIALS_FAILED").Wrap(err)
	}

	sum := sha256.Sum256(payload)
	if err := s.signer.SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), sesSigningName, s.region, s.now()); err != nil {
		return oops.Code("SES_SIGN_FAILED").Wrap(err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return oops.Code("SES_SEND_FAILED").Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return oops.Code("SES_SEND_FAILED").
			With("status", resp.StatusCode).
			Errorf("ses responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return nil
}
