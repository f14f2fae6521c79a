package storage

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureBlobFetcher downloads images from one Azure storage account.
// URLs take the form https://<account>.blob.core.windows.net/<container>/<blob path>.
type AzureBlobFetcher struct {
	client  *azblob.Client
	account string
}

func NewAzureBlobFetcher(accountName string, accountKey string) (*AzureBlobFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create azure client: %w", err)
	}

	return &AzureBlobFetcher{client: client, account: accountName}, nil
}

// Host is the blob endpoint host this fetcher serves
func (s *AzureBlobFetcher) Host() string {
	return AzureBlobHost(s.account)
}

// AzureBlobHost returns the blob endpoint host of an account
func AzureBlobHost(account string) string {
	return account + ".blob.core.windows.net"
}

func (s *AzureBlobFetcher) FetchImage(ctx context.Context, blobURL string) (image.Image, error) {
	containerName, blobName, err := SplitBlobPath(blobURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	body := resp.Body
	defer body.Close()

	return DecodeImage(body)
}

// SplitBlobPath extracts container and blob names from a blob URL
func SplitBlobPath(blobURL string) (string, string, error) {
	parsedURL, err := url.Parse(blobURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob URL: %w", err)
	}
	containerName, blobName, ok := strings.Cut(strings.TrimPrefix(parsedURL.Path, "/"), "/")
	if !ok || containerName == "" || blobName == "" {
		return "", "", fmt.Errorf("blob URL must include container and blob name: %q", blobURL)
	}
	return containerName, blobName, nil
}
