package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/testutil"
)

// memKV is an in-process clientv3.KV covering the Get/Put calls EtcdSource
// makes. Other methods panic through the nil embedded interface.
type memKV struct {
	clientv3.KV
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newMemKV() *memKV { return &memKV{data: map[string]string{}} }

func (k *memKV) Put(_ context.Context, key, val string, _ ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	k.data[key] = val
	return &clientv3.PutResponse{}, nil
}

func (k *memKV) Get(_ context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}
	op := clientv3.OpGet(key, opts...)
	end := string(op.RangeBytes())

	var keys []string
	for stored := range k.data {
		if stored == key || (end != "" && stored >= key && stored < end) {
			keys = append(keys, stored)
		}
	}
	sort.Strings(keys)

	resp := &clientv3.GetResponse{}
	for _, stored := range keys {
		resp.Kvs = append(resp.Kvs, &mvccpb.KeyValue{Key: []byte(stored), Value: []byte(k.data[stored])})
	}
	resp.Count = int64(len(resp.Kvs))
	return resp, nil
}

func TestEtcdSource_Key(t *testing.T) {
	s := NewEtcdSourceFromKV(newMemKV(), "")
	require.Equal(t, "/protoreg/data/user_events@1.1.1", s.Key("data", "user_events", "1.1.1"))

	s = NewEtcdSourceFromKV(newMemKV(), "/teams/a/")
	require.Equal(t, "/teams/a/api/billing@v2.0.0", s.Key("api", "billing", "v2.0.0"))
}

func TestEtcdSource_PutAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewEtcdSourceFromKV(newMemKV(), "test")
	for _, m := range testutil.NewBuilder(t).
		WithBody(testutil.UserEvents("1.1.1")).
		WithBody(testutil.UserEvents("1.12.0")).
		WithBody(testutil.UserEvents("1.2.0")).
		Manifests() {
		require.NoError(t, s.Put(ctx, m))
	}

	m, err := s.Load(ctx, mustURN(t, "urn:proto:data:user_events@v1.2.0"))
	require.NoError(t, err)
	require.Equal(t, "1.2.0", m.Version())

	m, err = s.Load(ctx, mustURN(t, "urn:proto:data:user_events@latest"))
	require.NoError(t, err)
	require.Equal(t, "1.12.0", m.Version())

	_, err = s.Load(ctx, mustURN(t, "urn:proto:data:user_events@3.0.0"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load(ctx, mustURN(t, "urn:proto:data:other"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEtcdSource_LatestIgnoresLongerIDs(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := NewEtcdSourceFromKV(kv, "test")
	require.NoError(t, s.Put(ctx, manifest.MustNew(testutil.UserEvents("1.0.0"))))
	kv.data["/test/data/user_events_v2@9.0.0"] = `{"dataset":{"name":"user_events_v2"}}`

	m, err := s.Load(ctx, mustURN(t, "urn:proto:data:user_events"))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", m.Version())
}

func TestEtcdSource_Errors(t *testing.T) {
	ctx := context.Background()
	kv := newMemKV()
	s := NewEtcdSourceFromKV(kv, "test")

	kv.data["/test/data/broken@1.0.0"] = "{nope"
	_, err := s.Load(ctx, mustURN(t, "urn:proto:data:broken@1.0.0"))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)

	kv.err = errors.New("connection refused")
	_, err = s.Load(ctx, mustURN(t, "urn:proto:data:broken@1.0.0"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Close(), "borrowed kv is not closed")
}

func TestNewEtcdSource_RequiresEndpoints(t *testing.T) {
	_, err := NewEtcdSource(context.Background(), EtcdConfig{})
	require.Error(t, err)
}
