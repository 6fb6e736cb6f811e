package registry

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

const rosterPartitionKey = "peer"

// AzureTableStore is an alternate Store backed by Azure Table Storage, for a
// registry process that must be stateless and restartable behind shared
// storage rather than holding its roster only in memory.
type AzureTableStore struct {
	client *aztables.Client
	nextID atomic.Uint64
}

// NewAzureTableStore wraps an already-constructed table client. The caller
// is responsible for having created the table (CreateTableIfNotExists).
func NewAzureTableStore(client *aztables.Client) *AzureTableStore {
	return &AzureTableStore{client: client}
}

type peerEntity struct {
	PartitionKey string
	RowKey       string
	ID           uint64
	Address      string
}

func (s *AzureTableStore) Add(ctx context.Context, p Peer) error {
	entity := peerEntity{PartitionKey: rosterPartitionKey, RowKey: p.Name, ID: p.ID, Address: p.Address}
	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}
	_, err = s.client.AddEntity(ctx, data, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errorsAs(err, &respErr) && respErr.ErrorCode == "EntityAlreadyExists" {
			return ErrDuplicateName
		}
		return err
	}
	return nil
}

func (s *AzureTableStore) Remove(ctx context.Context, name string) error {
	_, err := s.client.DeleteEntity(ctx, rosterPartitionKey, name, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errorsAs(err, &respErr) && respErr.StatusCode == 404 {
			return ErrUnknownPeer
		}
		return err
	}
	return nil
}

func (s *AzureTableStore) List(ctx context.Context) ([]Peer, error) {
	pager := s.client.NewListEntitiesPager(nil)
	var peers []Peer
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var e peerEntity
			if err := json.Unmarshal(raw, &e); err != nil {
				continue
			}
			peers = append(peers, Peer{Name: e.RowKey, ID: e.ID, Address: e.Address})
		}
	}
	return peers, nil
}

// NextID hands out monotonically increasing ids from an in-process counter.
// A multi-instance registry deployment must run a single writer (or front
// this with a dedicated id-allocation table using If-Match ETags); the
// common case is one registry process per domain.
func (s *AzureTableStore) NextID(_ context.Context) (uint64, error) {
	return s.nextID.Add(1), nil
}

func errorsAs(err error, target **azcore.ResponseError) bool {
	respErr, ok := err.(*azcore.ResponseError)
	if !ok {
		return false
	}
	*target = respErr
	return true
}

var _ Store = (*AzureTableStore)(nil)
