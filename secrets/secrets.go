// Package secrets retrieves source database credentials from AWS Secrets
// Manager. Secrets are JSON objects having "username" and "password" fields,
// as written by the Secrets Manager rotation templates of DocumentDB and RDS.
package secrets

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Credentials of a source database.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Fetcher fetches Credentials from Secrets Manager.
type Fetcher struct {
	Client secretsmanageriface.SecretsManagerAPI
}

// NewFetcher returns a Fetcher of the AWS session.
func NewFetcher(sess *session.Session) *Fetcher {
	return NewFetcherWithClient(secretsmanager.New(sess))
}

// NewFetcherWithClient returns a Fetcher using the provided client.
func NewFetcherWithClient(client secretsmanageriface.SecretsManagerAPI) *Fetcher {
	return &Fetcher{Client: client}
}

// Credentials fetches and decodes the current version of secret |name|.
func (f *Fetcher) Credentials(ctx context.Context, name string) (Credentials, error) {
	log.WithField("secret", name).Info("retrieving source credentials")

	var out, err = f.Client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if awsErr, ok := err.(awserr.Error); ok && awsErr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
		return Credentials{}, errors.Errorf("secret %s does not exist", name)
	} else if err != nil {
		return Credentials{}, errors.WithMessagef(err, "retrieving secret %s", name)
	}

	var raw []byte
	if out.SecretString != nil {
		raw = []byte(*out.SecretString)
	} else {
		raw = out.SecretBinary
	}

	var creds Credentials
	if err = json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, errors.WithMessagef(err, "decoding secret %s", name)
	} else if creds.Username == "" {
		return Credentials{}, errors.Errorf("secret %s has no username", name)
	} else if creds.Password == "" {
		return Credentials{}, errors.Errorf("secret %s has no password", name)
	}
	return creds, nil
}
