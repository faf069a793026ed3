package staging

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// S3StoreArgs are parsed from the query arguments of an s3:// staging URL.
type S3StoreArgs struct {
	// AWS Profile to extract credentials from the shared credentials file.
	// If empty, the default credentials are used.
	Profile string
	// Endpoint to connect to S3. If empty, the default S3 service is used.
	Endpoint string
	// Region of the bucket. If empty, the region is determined from
	// `Profile` or the default credentials.
	Region string
	// SSE is the server-side encryption type to be applied (eg, "AES256").
	SSE string
	// SSEKMSKeyId specifies the ID of a KMS key used for SSE.
	SSEKMSKeyId string
	// StorageClass of staged objects. By default, STANDARD.
	StorageClass string
}

// S3Store is a BlobStore of a versioned S3 bucket.
type S3Store struct {
	bucket string
	args   S3StoreArgs
	client *s3.S3
}

// NewS3Store builds an S3Store from an s3:// staging URL.
func NewS3Store(ep *url.URL) (*S3Store, error) {
	var args S3StoreArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var awsConfig = aws.NewConfig()
	awsConfig.WithCredentialsChainVerboseErrors(true)

	if args.Region != "" {
		awsConfig.WithRegion(args.Region)
	}
	if args.Endpoint != "" {
		awsConfig.WithEndpoint(args.Endpoint)
		// Bucket-named virtual hosts are not compatible with explicit endpoints.
		awsConfig.WithS3ForcePathStyle(true)
	} else {
		// Staged payloads carry their own Content-Encoding, which must not be
		// transparently decoded by the http.Transport.
		awsConfig.WithHTTPClient(&http.Client{
			Transport: &http.Transport{DisableCompression: true},
		})
	}

	awsSession, err := session.NewSessionWithOptions(session.Options{
		Config:  *awsConfig,
		Profile: args.Profile,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "constructing S3 session")
	}
	if awsSession.Config.Region == nil || *awsSession.Config.Region == "" {
		return nil, errors.Errorf("missing AWS region configuration for profile %q", args.Profile)
	}

	log.WithFields(log.Fields{
		"bucket":   ep.Host,
		"endpoint": args.Endpoint,
		"profile":  args.Profile,
		"region":   *awsSession.Config.Region,
	}).Info("constructed new S3 staging store")

	return NewS3StoreWithClient(ep.Host, args, s3.New(awsSession)), nil
}

// NewS3StoreWithClient returns an S3Store using the provided client.
func NewS3StoreWithClient(bucket string, args S3StoreArgs, client *s3.S3) *S3Store {
	return &S3Store{bucket: bucket, args: args, client: client}
}

// Provider implements BlobStore.
func (s *S3Store) Provider() string { return "s3" }

// Bucket implements BlobStore.
func (s *S3Store) Bucket() string { return s.bucket }

// Put implements BlobStore. The request must complete with HTTP 200 OK.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentEncoding string) (string, error) {
	var putObj = s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
		ACL:    aws.String(s3.ObjectCannedACLPrivate),
	}
	if s.args.StorageClass != "" {
		putObj.StorageClass = aws.String(s.args.StorageClass)
	}
	if s.args.SSE != "" {
		putObj.ServerSideEncryption = aws.String(s.args.SSE)
	}
	if s.args.SSEKMSKeyId != "" {
		putObj.SSEKMSKeyId = aws.String(s.args.SSEKMSKeyId)
	}
	if contentEncoding != "" {
		putObj.ContentEncoding = aws.String(contentEncoding)
	}

	var req, out = s.client.PutObjectRequest(&putObj)
	req.SetContext(ctx)

	if err := req.Send(); err != nil {
		return "", err
	} else if req.HTTPResponse == nil || req.HTTPResponse.StatusCode != http.StatusOK {
		var status = 0
		if req.HTTPResponse != nil {
			status = req.HTTPResponse.StatusCode
		}
		return "", errors.WithMessagef(ErrPutNotAcknowledged, "s3://%s/%s (HTTP status %d)", s.bucket, key, status)
	}
	return aws.StringValue(out.VersionId), nil
}

// Get implements BlobStore.
func (s *S3Store) Get(ctx context.Context, key, version string) ([]byte, string, error) {
	var getObj = s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if version != "" {
		getObj.VersionId = aws.String(version)
	}
	var resp, err = s.client.GetObjectWithContext(ctx, &getObj)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.WithMessage(err, "reading object body")
	}
	return body, aws.StringValue(resp.ContentEncoding), nil
}

// Delete implements BlobStore.
func (s *S3Store) Delete(ctx context.Context, key, version string) error {
	var delObj = s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if version != "" {
		delObj.VersionId = aws.String(version)
	}
	var _, err = s.client.DeleteObjectWithContext(ctx, &delObj)
	return err
}
