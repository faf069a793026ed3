package staging

import (
	"context"
	"io"
	"net/url"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GCSStoreArgs are parsed from the query arguments of a gs:// staging URL.
type GCSStoreArgs struct {
	// Endpoint of the storage API. If empty, the default service is used.
	Endpoint string
	// Anonymous disables authentication, as is required by some emulators.
	Anonymous bool
}

// GCSStore is a BlobStore of a Google Cloud Storage bucket. Object
// generations serve as versions.
type GCSStore struct {
	bucket string
	client *storage.Client
}

// NewGCSStore builds a GCSStore from a gs:// staging URL.
func NewGCSStore(ctx context.Context, ep *url.URL) (*GCSStore, error) {
	var args GCSStoreArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if args.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(args.Endpoint))
	}
	if args.Anonymous {
		opts = append(opts, option.WithoutAuthentication())
	}
	var client, err = storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "constructing GCS client")
	}

	log.WithFields(log.Fields{
		"bucket":   ep.Host,
		"endpoint": args.Endpoint,
	}).Info("constructed new GCS staging store")

	return &GCSStore{bucket: ep.Host, client: client}, nil
}

// Provider implements BlobStore.
func (s *GCSStore) Provider() string { return "gs" }

// Bucket implements BlobStore.
func (s *GCSStore) Bucket() string { return s.bucket }

// Put implements BlobStore. The write is acknowledged once the writer
// closes and reports the generation of the created object.
func (s *GCSStore) Put(ctx context.Context, key string, body []byte, contentEncoding string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wc = s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentEncoding != "" {
		wc.ContentEncoding = contentEncoding
	}
	if _, err := wc.Write(body); err != nil {
		return "", err
	} else if err = wc.Close(); err != nil {
		return "", err
	}

	var attrs = wc.Attrs()
	if attrs == nil || attrs.Generation == 0 {
		return "", errors.WithMessagef(ErrPutNotAcknowledged, "gs://%s/%s", s.bucket, key)
	}
	return strconv.FormatInt(attrs.Generation, 10), nil
}

// Get implements BlobStore.
func (s *GCSStore) Get(ctx context.Context, key, version string) ([]byte, string, error) {
	var obj, err = s.object(key, version)
	if err != nil {
		return nil, "", err
	}
	// Content-Encoding is decoded by the caller, and not by the transport.
	rc, err := obj.ReadCompressed(true).NewReader(ctx)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", errors.WithMessage(err, "reading object body")
	}
	return body, rc.Attrs.ContentEncoding, nil
}

// Delete implements BlobStore.
func (s *GCSStore) Delete(ctx context.Context, key, version string) error {
	var obj, err = s.object(key, version)
	if err != nil {
		return err
	}
	return obj.Delete(ctx)
}

func (s *GCSStore) object(key, version string) (*storage.ObjectHandle, error) {
	var obj = s.client.Bucket(s.bucket).Object(key)
	if version == "" {
		return obj, nil
	}
	var gen, err = strconv.ParseInt(version, 10, 64)
	if err != nil {
		return nil, errors.WithMessagef(err, "parsing object generation %q", version)
	}
	return obj.Generation(gen), nil
}
