package mainboilerplate

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
)

// AWSConfig configures the AWS session shared by SNS, Lambda and Secrets
// Manager clients. Staging buckets and queues carry their own settings in
// their URLs.
type AWSConfig struct {
	Region   string `long:"region" env:"REGION" description:"AWS region. The SDK default chain is used if not set"`
	Profile  string `long:"profile" env:"PROFILE" description:"Shared configuration profile"`
	Endpoint string `long:"endpoint" env:"ENDPOINT" description:"Endpoint override, eg of a local AWS emulator"`
}

// Session builds an *session.Session of the AWSConfig.
func (c AWSConfig) Session() (*session.Session, error) {
	var cfg = aws.NewConfig()
	if c.Region != "" {
		cfg = cfg.WithRegion(c.Region)
	}
	if c.Endpoint != "" {
		cfg = cfg.WithEndpoint(c.Endpoint)
	}
	var sess, err = session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		Profile:           c.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "constructing AWS session")
	}
	return sess, nil
}
