package elasticsearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"whatsapp-alert/internal/config"

	es "github.com/elastic/go-elasticsearch/v8"
	osv2 "github.com/opensearch-project/opensearch-go/v2"
)

// Client talks to either Elasticsearch or OpenSearch behind one API.
type Client struct {
	provider string
	timeout  time.Duration
	es       *es.Client
	os       *osv2.Client
}

func NewClient(cfg config.ElasticsearchConfig) (*Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// Default to Elasticsearch
	provider := cfg.Provider
	if provider == "" {
		provider = "elasticsearch"
	}
	c := &Client{provider: provider, timeout: cfg.GetRequestTimeout()}

	switch provider {
	case "opensearch":
		osClient, err := osv2.NewClient(osv2.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		})
		if err != nil {
			return nil, err
		}
		c.os = osClient
	case "elasticsearch":
		// For older Elasticsearch (<7.14) or proxies stripping headers, allow skipping product check
		if cfg.SkipProductCheck {
			_ = os.Setenv("ELASTIC_CLIENT_SKIP_PRODUCT_CHECK", "true")
		}
		esClient, err := es.NewClient(es.Config{
			Addresses: cfg.Addresses,
			Username:  cfg.Username,
			Password:  cfg.Password,
			CloudID:   cfg.CloudID,
			APIKey:    cfg.APIKey,
			Transport: transport,
		})
		if err != nil {
			return nil, err
		}
		c.es = esClient
	default:
		return nil, fmt.Errorf("unknown search provider %q", provider)
	}
	return c, nil
}

// Provider reports which backend the client was built for.
func (c *Client) Provider() string { return c.provider }

// Response is the subset of a search response both backends agree on.
type Response struct {
	Body       io.ReadCloser
	StatusCode int
	raw        string
	isError    bool
}

func (r *Response) IsError() bool  { return r.isError }
func (r *Response) String() string { return r.raw }

// Index stores one document under id.
func (c *Client) Index(ctx context.Context, index, id string, body io.Reader) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	switch c.provider {
	case "opensearch":
		res, err := c.os.Index(index, body,
			c.os.Index.WithContext(ctx),
			c.os.Index.WithDocumentID(id),
		)
		if err != nil {
			return nil, err
		}
		return readResponse(res.Body, res.StatusCode, res.IsError())
	default:
		res, err := c.es.Index(index, body,
			c.es.Index.WithContext(ctx),
			c.es.Index.WithDocumentID(id),
		)
		if err != nil {
			return nil, err
		}
		return readResponse(res.Body, res.StatusCode, res.IsError())
	}
}

// Search executes a query body against index, returning at most size hits
// sorted by sort (for example "fired_at:desc").
func (c *Client) Search(ctx context.Context, index string, body io.Reader, size int, sort string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	switch c.provider {
	case "opensearch":
		res, err := c.os.Search(
			c.os.Search.WithContext(ctx),
			c.os.Search.WithIndex(index),
			c.os.Search.WithBody(body),
			c.os.Search.WithSize(size),
			c.os.Search.WithSort(sort),
			c.os.Search.WithTrackTotalHits(true),
		)
		if err != nil {
			return nil, err
		}
		return readResponse(res.Body, res.StatusCode, res.IsError())
	default:
		res, err := c.es.Search(
			c.es.Search.WithContext(ctx),
			c.es.Search.WithIndex(index),
			c.es.Search.WithBody(body),
			c.es.Search.WithSize(size),
			c.es.Search.WithSort(sort),
			c.es.Search.WithTrackTotalHits(true),
			c.es.Search.WithRestTotalHitsAsInt(true),
		)
		if err != nil {
			return nil, err
		}
		return readResponse(res.Body, res.StatusCode, res.IsError())
	}
}

// readResponse buffers the body so it outlives the request context.
func readResponse(body io.ReadCloser, status int, isError bool) (*Response, error) {
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:       io.NopCloser(bytes.NewReader(data)),
		StatusCode: status,
		raw:        fmt.Sprintf("[%d] %s", status, data),
		isError:    isError,
	}, nil
}
