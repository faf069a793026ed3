// Package staging writes normalized change-event payloads to blob storage
// under deterministic keys, returning the StagedPointer by which the
// downstream indexer later resolves and removes them.
package staging

import (
	"context"
	"net/url"
	"strings"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// BlobStore is a versioned blob storage bucket.
type BlobStore interface {
	// Provider names the storage provider, eg "s3".
	Provider() string
	// Bucket of the BlobStore.
	Bucket() string
	// Put |body| under |key|, returning the version of the created object.
	// Put returns an error unless the store explicitly acknowledged the write.
	Put(ctx context.Context, key string, body []byte, contentEncoding string) (version string, err error)
	// Get the exact version of the object under |key|. An empty |version|
	// reads the current version.
	Get(ctx context.Context, key, version string) (body []byte, contentEncoding string, err error)
	// Delete the exact version of the object under |key|.
	Delete(ctx context.Context, key, version string) error
}

// ErrPutNotAcknowledged is returned by Put when the store responded to the
// write without an explicit success status.
var ErrPutNotAcknowledged = errors.New("blob write was not acknowledged")

// OpenStore returns the BlobStore of a staging URL, and the key prefix
// carried by its path:
//
//   - s3://bucket/prefix?region=...&endpoint=...&profile=...&sse=...
//   - gs://bucket/prefix
//   - azure://container/prefix?account=...&endpoint=...
//   - memory://bucket/prefix
func OpenStore(ctx context.Context, rawURL string) (BlobStore, string, error) {
	var ep, err = url.Parse(rawURL)
	if err != nil {
		return nil, "", errors.WithMessage(err, "parsing staging URL")
	} else if ep.Host == "" {
		return nil, "", errors.Errorf("staging URL %q has no bucket", rawURL)
	}
	var prefix = strings.Trim(ep.Path, "/")

	var store BlobStore
	switch ep.Scheme {
	case "s3":
		store, err = NewS3Store(ep)
	case "gs":
		store, err = NewGCSStore(ctx, ep)
	case "azure":
		store, err = NewAzureStore(ep)
	case "memory":
		store = NewMemoryStore(ep.Host)
	default:
		err = errors.Errorf("unsupported staging scheme %q", ep.Scheme)
	}
	if err != nil {
		return nil, "", err
	}
	return store, prefix, nil
}

// parseStoreArgs decodes the query arguments of |ep| into |args|.
func parseStoreArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	if q, err := url.ParseQuery(ep.RawQuery); err != nil {
		return err
	} else if err = decoder.Decode(args, q); err != nil {
		return errors.WithMessagef(err, "parsing store URL arguments")
	}
	return nil
}
