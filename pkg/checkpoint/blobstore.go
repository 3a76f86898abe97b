package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/wehubfusion/Daedalus/pkg/execution"
	"go.uber.org/zap"
)

// BlobStore archives checkpoints as JSON blobs in Azure Blob Storage, for
// hosts that keep run state durable beyond the messaging tier. Each
// execution's latest checkpoint lives at <prefix>/<executionID>.json.
type BlobStore struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        *zap.Logger

	initMu        sync.Mutex
	containerInit bool
}

// NewBlobStore creates a checkpoint store from a standard Azure storage
// connection string. An http:// blob endpoint (Azurite) is allowed for
// local development.
func NewBlobStore(connectionString, containerName, prefix string, logger *zap.Logger) (*BlobStore, error) {
	if connectionString == "" {
		return nil, errors.New("connection string is required")
	}
	if containerName == "" {
		return nil, errors.New("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, errors.New("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobStore{
		client:        client,
		containerName: containerName,
		prefix:        strings.Trim(prefix, "/"),
		logger:        logger,
	}, nil
}

func (s *BlobStore) blobPath(executionID string) string {
	if s.prefix == "" {
		return executionID + ".json"
	}
	return s.prefix + "/" + executionID + ".json"
}

// Save implements Store.
func (s *BlobStore) Save(ctx context.Context, meta execution.ContextMetadata) error {
	if meta.ExecutionID == "" {
		return errors.New("checkpoint has no execution ID")
	}
	if err := s.ensureContainer(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	blobClient := s.client.ServiceClient().
		NewContainerClient(s.containerName).
		NewBlockBlobClient(s.blobPath(meta.ExecutionID))

	_, err = blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		Metadata: map[string]*string{
			"graphid":    to.Ptr(meta.GraphID),
			"layerindex": to.Ptr(fmt.Sprintf("%d", meta.LayerIndex)),
		},
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		s.logger.Error("failed to upload checkpoint blob",
			zap.String("executionID", meta.ExecutionID),
			zap.Error(err))
		return fmt.Errorf("checkpoint upload failed: %w", err)
	}

	s.logger.Debug("checkpoint archived",
		zap.String("executionID", meta.ExecutionID),
		zap.Int("sizeBytes", len(data)))
	return nil
}

// Load implements Store.
func (s *BlobStore) Load(ctx context.Context, executionID string) (execution.ContextMetadata, error) {
	blobClient := s.client.ServiceClient().
		NewContainerClient(s.containerName).
		NewBlobClient(s.blobPath(executionID))

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return execution.ContextMetadata{}, ErrNotFound
		}
		return execution.ContextMetadata{}, fmt.Errorf("failed to download checkpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return execution.ContextMetadata{}, fmt.Errorf("failed to read checkpoint blob: %w", err)
	}

	var meta execution.ContextMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return execution.ContextMetadata{}, fmt.Errorf("failed to decode checkpoint for %q: %w", executionID, err)
	}
	return meta, nil
}

// Delete implements Store.
func (s *BlobStore) Delete(ctx context.Context, executionID string) error {
	blobClient := s.client.ServiceClient().
		NewContainerClient(s.containerName).
		NewBlobClient(s.blobPath(executionID))

	_, err := blobClient.Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return fmt.Errorf("failed to delete checkpoint for %q: %w", executionID, err)
	}
	return nil
}

// List implements Store.
func (s *BlobStore) List(ctx context.Context) ([]string, error) {
	var listPrefix *string
	if s.prefix != "" {
		listPrefix = to.Ptr(s.prefix + "/")
	}

	pager := s.client.NewListBlobsFlatPager(s.containerName, &container.ListBlobsFlatOptions{
		Prefix: listPrefix,
	})

	var ids []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			if bloberror.HasCode(err, bloberror.ContainerNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to list checkpoints: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if s.prefix != "" {
				name = strings.TrimPrefix(name, s.prefix+"/")
			}
			ids = append(ids, strings.TrimSuffix(name, ".json"))
		}
	}
	return ids, nil
}

// ensureContainer creates the container on first use. Serialized so that
// concurrent runs sharing one store neither race the flag nor issue
// redundant create calls; a transient failure leaves the flag unset and the
// next Save retries.
func (s *BlobStore) ensureContainer(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.containerInit {
		return nil
	}
	_, err := s.client.CreateContainer(ctx, s.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	s.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}
