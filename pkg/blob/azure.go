// Package blob provides flat object listings over Azure Blob Storage and
// S3-compatible object stores.
package blob

import (
	"context"
	"fmt"
	"iter"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/zeebo/errs"

	"github.com/thannaske/storageusage/pkg/models"
)

// Error is the error class for listing failures.
var Error = errs.Class("blob")

// AzureLister lists blobs of a single container
type AzureLister struct {
	client    *azblob.Client
	container string
}

// NewAzureLister creates a lister for the configured container. A connection
// string takes precedence over the account URL. With an account URL the token
// credential is used when given, otherwise the URL is used as is (public or SAS).
func NewAzureLister(cfg models.AzureConfig, cred azcore.TokenCredential) (*AzureLister, error) {
	if cfg.Container == "" {
		return nil, Error.New("azure container must be provided")
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountURL != "" && cred != nil:
		client, err = azblob.NewClient(cfg.AccountURL, cred, nil)
	case cfg.AccountURL != "":
		client, err = azblob.NewClientWithNoCredential(cfg.AccountURL, nil)
	default:
		return nil, Error.New("azure connection string or account URL must be provided")
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("failed to create blob client: %w", err))
	}

	return &AzureLister{client: client, container: cfg.Container}, nil
}

// ListObjects lazily pages through a flat blob listing for the given prefix
func (l *AzureLister) ListObjects(ctx context.Context, prefix string) iter.Seq2[models.ObjectDescriptor, error] {
	return func(yield func(models.ObjectDescriptor, error) bool) {
		pager := l.client.NewListBlobsFlatPager(l.container, &azblob.ListBlobsFlatOptions{
			Prefix: to.Ptr(prefix),
		})

		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				yield(models.ObjectDescriptor{}, Error.Wrap(fmt.Errorf("failed to list blobs in container %s: %w", l.container, err)))
				return
			}
			if page.Segment == nil {
				continue
			}

			for _, item := range page.Segment.BlobItems {
				desc := models.ObjectDescriptor{}
				if item.Name != nil {
					desc.Key = *item.Name
				}
				if item.Properties != nil && item.Properties.ContentLength != nil {
					desc.ContentLength = *item.Properties.ContentLength
				}
				if !yield(desc, nil) {
					return
				}
			}
		}
	}
}
