package trace

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// AzureBlobSink is an alternate Sink that archives a capture directly to
// Azure Blob Storage as an append blob: the GlobalHeader and then each
// record are appended as blocks, for durable trace archival.
type AzureBlobSink struct {
	mu     sync.Mutex
	ctx    context.Context
	client *container.Client
	blob   string
}

// NewAzureBlobSink creates (or resets) an append blob named blobName in
// container client, writes the GlobalHeader as its first block, and returns
// a Sink ready for Write calls.
func NewAzureBlobSink(ctx context.Context, client *container.Client, blobName string, link LinkType) (*AzureBlobSink, error) {
	abc := client.NewAppendBlobClient(blobName)
	if _, err := abc.Create(ctx, nil); err != nil {
		return nil, err
	}
	var hdr bytes.Buffer
	if err := newGlobalHeader(link).writeTo(&hdr); err != nil {
		return nil, err
	}
	if _, err := abc.AppendBlock(ctx, streaming.NopCloser(bytes.NewReader(hdr.Bytes())), nil); err != nil {
		return nil, err
	}
	return &AzureBlobSink{ctx: ctx, client: client, blob: blobName}, nil
}

func (s *AzureBlobSink) Write(tsSec, tsUsec uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], tsSec)
	binary.LittleEndian.PutUint32(hdr[4:8], tsUsec)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))

	block := append(hdr[:], data...)
	abc := s.client.NewAppendBlobClient(s.blob)
	_, err := abc.AppendBlock(s.ctx, streaming.NopCloser(bytes.NewReader(block)), nil)
	return err
}

func (s *AzureBlobSink) Close() error { return nil }

var _ Sink = (*AzureBlobSink)(nil)
