package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	secretsmanageriface.SecretsManagerAPI

	values map[string]*secretsmanager.GetSecretValueOutput
	asked  []string
}

func (f *fakeSecrets) GetSecretValueWithContext(_ aws.Context, in *secretsmanager.GetSecretValueInput, _ ...request.Option) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = append(f.asked, *in.SecretId)
	if out, ok := f.values[*in.SecretId]; ok {
		return out, nil
	}
	return nil, awserr.New(secretsmanager.ErrCodeResourceNotFoundException, "not found", nil)
}

func TestFetchCredentials(t *testing.T) {
	var fake = &fakeSecrets{values: map[string]*secretsmanager.GetSecretValueOutput{
		"docdb/creds": {SecretString: aws.String(`{"username":"relay","password":"p@ss:word","engine":"mongo"}`)},
		"binary":      {SecretBinary: []byte(`{"username":"bin","password":"pw"}`)},
		"no-password": {SecretString: aws.String(`{"username":"relay"}`)},
		"garbage":     {SecretString: aws.String(`not json`)},
	}}
	var f = NewFetcherWithClient(fake)
	var ctx = context.Background()

	var creds, err = f.Credentials(ctx, "docdb/creds")
	require.NoError(t, err)
	assert.Equal(t, Credentials{Username: "relay", Password: "p@ss:word"}, creds)

	creds, err = f.Credentials(ctx, "binary")
	require.NoError(t, err)
	assert.Equal(t, "bin", creds.Username)

	_, err = f.Credentials(ctx, "no-password")
	assert.EqualError(t, err, "secret no-password has no password")

	_, err = f.Credentials(ctx, "garbage")
	assert.ErrorContains(t, err, "decoding secret garbage")

	_, err = f.Credentials(ctx, "missing")
	assert.EqualError(t, err, "secret missing does not exist")

	assert.Equal(t, []string{"docdb/creds", "binary", "no-password", "garbage", "missing"}, fake.asked)
}
