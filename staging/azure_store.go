package staging

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// AzureStoreArgs are parsed from the query arguments of an azure:// staging
// URL, whose host is the blob container.
type AzureStoreArgs struct {
	// Account is the storage account. If empty, AZURE_ACCOUNT_NAME is used.
	Account string
	// Domain of the blob service. By default, blob.core.windows.net.
	Domain string
	// Endpoint of the blob service, which overrides Account and Domain
	// (eg, "http://127.0.0.1:10000/devstoreaccount1" of an emulator).
	Endpoint string
}

// AzureStore is a BlobStore of an Azure Blob Storage container having blob
// versioning enabled. Blob version IDs serve as versions.
//
// Shared Key authentication is used if AZURE_ACCOUNT_KEY is set. Otherwise
// credentials are resolved by azidentity's default chain, which reads
// AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET, or a workload
// or managed identity.
type AzureStore struct {
	container string
	client    *container.Client
}

// NewAzureStore builds an AzureStore from an azure:// staging URL.
func NewAzureStore(ep *url.URL) (*AzureStore, error) {
	var args AzureStoreArgs
	if err := parseStoreArgs(ep, &args); err != nil {
		return nil, err
	}
	if args.Account == "" {
		args.Account = os.Getenv("AZURE_ACCOUNT_NAME")
	}
	if args.Domain == "" {
		args.Domain = "blob.core.windows.net"
	}

	var serviceURL = args.Endpoint
	if serviceURL == "" {
		if args.Account == "" {
			return nil, errors.New("azure:// staging URLs require an account argument or AZURE_ACCOUNT_NAME")
		}
		serviceURL = "https://" + args.Account + "." + args.Domain
	}
	var containerURL = strings.TrimSuffix(serviceURL, "/") + "/" + ep.Host

	// Staged payloads carry their own Content-Encoding, which must not be
	// transparently decoded by the http.Transport.
	var opts = &container.ClientOptions{ClientOptions: azcore.ClientOptions{
		Transport: &http.Client{Transport: &http.Transport{DisableCompression: true}},
	}}

	var client *container.Client
	if key := os.Getenv("AZURE_ACCOUNT_KEY"); key != "" {
		var cred, err = container.NewSharedKeyCredential(args.Account, key)
		if err != nil {
			return nil, errors.WithMessage(err, "building Azure shared key credential")
		}
		if client, err = container.NewClientWithSharedKeyCredential(containerURL, cred, opts); err != nil {
			return nil, errors.WithMessage(err, "constructing Azure container client")
		}
	} else {
		var cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, errors.WithMessage(err, "building Azure credential")
		}
		if client, err = container.NewClient(containerURL, cred, opts); err != nil {
			return nil, errors.WithMessage(err, "constructing Azure container client")
		}
	}

	log.WithFields(log.Fields{
		"container": ep.Host,
		"url":       containerURL,
	}).Info("constructed new Azure staging store")

	return &AzureStore{container: ep.Host, client: client}, nil
}

// Provider implements BlobStore.
func (s *AzureStore) Provider() string { return "azure" }

// Bucket implements BlobStore.
func (s *AzureStore) Bucket() string { return s.container }

// Put implements BlobStore. The write is acknowledged by the service
// reporting the version ID of the created blob.
func (s *AzureStore) Put(ctx context.Context, key string, body []byte, contentEncoding string) (string, error) {
	var opts = &blockblob.UploadOptions{}
	if contentEncoding != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentEncoding: to.Ptr(contentEncoding)}
	}
	var resp, err = s.client.NewBlockBlobClient(key).Upload(ctx,
		streaming.NopCloser(bytes.NewReader(body)), opts)
	if err != nil {
		return "", err
	} else if resp.VersionID == nil || *resp.VersionID == "" {
		return "", errors.WithMessagef(ErrPutNotAcknowledged,
			"azure://%s/%s (is blob versioning enabled?)", s.container, key)
	}
	return *resp.VersionID, nil
}

// Get implements BlobStore.
func (s *AzureStore) Get(ctx context.Context, key, version string) ([]byte, string, error) {
	var client, err = s.blob(key, version)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.DownloadStream(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errors.WithMessage(err, "reading blob body")
	}
	var enc string
	if resp.ContentEncoding != nil {
		enc = *resp.ContentEncoding
	}
	return body, enc, nil
}

// Delete implements BlobStore. Deleting a removed version is not an error.
func (s *AzureStore) Delete(ctx context.Context, key, version string) error {
	var client, err = s.blob(key, version)
	if err != nil {
		return err
	}
	_, err = client.Delete(ctx, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil
	}
	return err
}

func (s *AzureStore) blob(key, version string) (*blockblob.Client, error) {
	var client = s.client.NewBlockBlobClient(key)
	if version == "" {
		return client, nil
	}
	var versioned, err = client.WithVersionID(version)
	if err != nil {
		return nil, errors.WithMessagef(err, "addressing blob version %q", version)
	}
	return versioned, nil
}
