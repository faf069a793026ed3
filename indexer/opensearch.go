package indexer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OpenSearchConfig configures an OpenSearch SearchIndex.
type OpenSearchConfig struct {
	Endpoint string
	Username string
	Password string
	// InsecureSkipVerify disables verification of the server certificate.
	InsecureSkipVerify bool
}

// OpenSearch is a SearchIndex of an OpenSearch cluster.
type OpenSearch struct {
	client *opensearch.Client
}

// NewOpenSearch builds an OpenSearch SearchIndex.
func NewOpenSearch(cfg OpenSearchConfig) (*OpenSearch, error) {
	var client, err = opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.Endpoint},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify},
		},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "building OpenSearch client")
	}
	log.WithField("endpoint", cfg.Endpoint).Info("constructed new OpenSearch client")

	return &OpenSearch{client: client}, nil
}

// NewOpenSearchWithClient returns an OpenSearch using the provided client.
func NewOpenSearchWithClient(client *opensearch.Client) *OpenSearch {
	return &OpenSearch{client: client}
}

// Upsert implements SearchIndex. The "_id" field of |body| is a reserved
// metadata field of the index, and is removed: |id| identifies the document.
func (s *OpenSearch) Upsert(ctx context.Context, index, id string, body []byte) error {
	var doc, err = indexDocument(body)
	if err != nil {
		return err
	}

	var req = opensearchapi.IndexRequest{
		Index:      index,
		DocumentID: id,
		Body:       bytes.NewReader(doc),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		var msg, _ = io.ReadAll(res.Body)
		return errors.Errorf("index request failed (%s): %s", res.Status(), bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// indexDocument returns the JSON object |body| without its "_id" field.
func indexDocument(body []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.WithMessage(err, "decoding payload")
	}
	delete(fields, "_id")
	return json.Marshal(fields)
}
