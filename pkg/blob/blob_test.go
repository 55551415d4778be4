package blob

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thannaske/storageusage/pkg/models"
)

const s3PageTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>usage</Name>
  <Prefix>folder/</Prefix>
  <KeyCount>%d</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>%t</IsTruncated>
  %s
  %s
</ListBucketResult>`

func s3Contents(objs ...models.ObjectDescriptor) string {
	out := ""
	for _, o := range objs {
		out += fmt.Sprintf("<Contents><Key>%s</Key><Size>%d</Size><StorageClass>STANDARD</StorageClass></Contents>", o.Key, o.ContentLength)
	}
	return out
}

func collect(t *testing.T, seq iter.Seq2[models.ObjectDescriptor, error]) ([]models.ObjectDescriptor, error) {
	t.Helper()
	var out []models.ObjectDescriptor
	for obj, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func TestS3ListerPaginates(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/usage", r.URL.Path)
		assert.Equal(t, "folder/", r.URL.Query().Get("prefix"))

		w.Header().Set("Content-Type", "application/xml")
		if r.URL.Query().Get("continuation-token") == "" {
			fmt.Fprintf(w, s3PageTemplate, 2, true,
				s3Contents(
					models.ObjectDescriptor{Key: "folder/a", ContentLength: 104857600},
					models.ObjectDescriptor{Key: "folder/b", ContentLength: 209715200},
				),
				"<NextContinuationToken>page-2</NextContinuationToken>")
			return
		}
		assert.Equal(t, "page-2", r.URL.Query().Get("continuation-token"))
		fmt.Fprintf(w, s3PageTemplate, 1, false,
			s3Contents(models.ObjectDescriptor{Key: "folder/c", ContentLength: 314572800}), "")
	}))
	defer srv.Close()

	lister, err := NewS3Lister(context.Background(), models.S3Config{
		Endpoint:  srv.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "usage",
	})
	require.NoError(t, err)

	objs, err := collect(t, lister.ListObjects(context.Background(), "folder/"))
	require.NoError(t, err)
	assert.Equal(t, []models.ObjectDescriptor{
		{Key: "folder/a", ContentLength: 104857600},
		{Key: "folder/b", ContentLength: 209715200},
		{Key: "folder/c", ContentLength: 314572800},
	}, objs)
	assert.Equal(t, 2, requests)

	// each call starts a new listing
	objs, err = collect(t, lister.ListObjects(context.Background(), "folder/"))
	require.NoError(t, err)
	assert.Len(t, objs, 3)
	assert.Equal(t, 4, requests)
}

func TestS3ListerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
	}))
	defer srv.Close()

	lister, err := NewS3Lister(context.Background(), models.S3Config{
		Endpoint:  srv.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "usage",
	})
	require.NoError(t, err)

	_, err = collect(t, lister.ListObjects(context.Background(), "folder/"))
	require.Error(t, err)
	assert.True(t, Error.Has(err))
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestNewS3ListerRequiresBucket(t *testing.T) {
	_, err := NewS3Lister(context.Background(), models.S3Config{Endpoint: "http://localhost:9000"})
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

const azurePageTemplate = `<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults ServiceEndpoint="%s/" ContainerName="media">
  <Prefix>folder/</Prefix>
  <Blobs>%s</Blobs>
  <NextMarker>%s</NextMarker>
</EnumerationResults>`

func azureBlobs(objs ...models.ObjectDescriptor) string {
	out := ""
	for _, o := range objs {
		out += fmt.Sprintf("<Blob><Name>%s</Name><Properties><Content-Length>%d</Content-Length><BlobType>BlockBlob</BlobType></Properties></Blob>", o.Key, o.ContentLength)
	}
	return out
}

func TestAzureListerPaginates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/media", r.URL.Path)
		assert.Equal(t, "list", q.Get("comp"))
		assert.Equal(t, "folder/", q.Get("prefix"))

		w.Header().Set("Content-Type", "application/xml")
		if q.Get("marker") == "" {
			fmt.Fprintf(w, azurePageTemplate, srv.URL,
				azureBlobs(models.ObjectDescriptor{Key: "folder/a", ContentLength: 52428800}), "m2")
			return
		}
		fmt.Fprintf(w, azurePageTemplate, srv.URL,
			azureBlobs(
				models.ObjectDescriptor{Key: "folder/b", ContentLength: 10485760},
				models.ObjectDescriptor{Key: "folder/b", ContentLength: 10485760},
			), "")
	}))
	defer srv.Close()

	lister, err := NewAzureLister(models.AzureConfig{AccountURL: srv.URL, Container: "media"}, nil)
	require.NoError(t, err)

	objs, err := collect(t, lister.ListObjects(context.Background(), "folder/"))
	require.NoError(t, err)
	assert.Equal(t, []models.ObjectDescriptor{
		{Key: "folder/a", ContentLength: 52428800},
		{Key: "folder/b", ContentLength: 10485760},
		{Key: "folder/b", ContentLength: 10485760},
	}, objs)
}

func TestNewAzureListerValidation(t *testing.T) {
	_, err := NewAzureLister(models.AzureConfig{AccountURL: "https://acct.blob.core.windows.net"}, nil)
	assert.True(t, Error.Has(err))

	_, err = NewAzureLister(models.AzureConfig{Container: "media"}, nil)
	assert.True(t, Error.Has(err))
}
