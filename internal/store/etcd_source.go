package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// DefaultEtcdNamespace is the key prefix used when none is configured.
const DefaultEtcdNamespace = "protoreg"

// EtcdConfig configures an EtcdSource.
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Namespace   string        `mapstructure:"namespace"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// EtcdSource stores manifests as JSON documents under
// /{namespace}/{type}/{id}@{version}.
type EtcdSource struct {
	kv        clientv3.KV
	client    *clientv3.Client
	namespace string
}

var _ Source = (*EtcdSource)(nil)

// NewEtcdSource connects to etcd and verifies the cluster answers a read.
func NewEtcdSource(ctx context.Context, cfg EtcdConfig) (*EtcdSource, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd: at least one endpoint is required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := cli.Get(healthCtx, "health-check"); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("etcd health check: %w", err)
	}

	s := NewEtcdSourceFromKV(cli, cfg.Namespace)
	s.client = cli
	log.Info(log.CatStore, "etcd source connected", "endpoints", strings.Join(cfg.Endpoints, ","), "namespace", s.namespace)
	return s, nil
}

// NewEtcdSourceFromKV wraps an existing KV, such as a client or a namespaced
// view. The caller keeps ownership of the connection.
func NewEtcdSourceFromKV(kv clientv3.KV, namespace string) *EtcdSource {
	if namespace == "" {
		namespace = DefaultEtcdNamespace
	}
	return &EtcdSource{kv: kv, namespace: strings.Trim(namespace, "/")}
}

func (s *EtcdSource) Name() string { return "etcd" }

// Key returns the etcd key for one manifest revision.
func (s *EtcdSource) Key(t urn.ProtocolType, id, version string) string {
	return "/" + path.Join(s.namespace, string(t), id+"@"+version)
}

func (s *EtcdSource) identityPrefix(t urn.ProtocolType, id string) string {
	return "/" + path.Join(s.namespace, string(t), id) + "@"
}

// Put stores m under its own identity.
func (s *EtcdSource) Put(ctx context.Context, m *manifest.Manifest) error {
	data, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.URN(), err)
	}
	key := s.Key(m.ProtocolType(), m.EntityID(), m.Version())
	if _, err := s.kv.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("etcd put %s: %w", key, err)
	}
	log.Debug(log.CatStore, "manifest stored", "key", key, "hash", m.Hash())
	return nil
}

// Load reads the exact key for a concrete version, trying the v-toggled
// variant too. Latest requests scan the identity prefix and take the highest
// version.
func (s *EtcdSource) Load(ctx context.Context, u urn.URN) (*manifest.Manifest, error) {
	if !u.IsLatest() {
		variants := []string{u.Version}
		if stripped := urn.StripV(u.Version); stripped != u.Version {
			variants = append(variants, stripped)
		} else {
			variants = append(variants, "v"+u.Version)
		}
		for _, v := range variants {
			key := s.Key(u.Type, u.ID, v)
			resp, err := s.kv.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("etcd get %s: %w", key, err)
			}
			if len(resp.Kvs) > 0 {
				return decodeEtcdValue(key, resp.Kvs[0].Value)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Base())
	}

	prefix := s.identityPrefix(u.Type, u.ID)
	resp, err := s.kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd scan %s: %w", prefix, err)
	}
	var (
		bestKey     string
		bestVersion string
		bestValue   []byte
	)
	for _, kv := range resp.Kvs {
		version := strings.TrimPrefix(string(kv.Key), prefix)
		if _, err := urn.ParseVersion(version); err != nil {
			continue
		}
		if bestKey == "" || urn.CompareVersions(version, bestVersion) > 0 {
			bestKey, bestVersion, bestValue = string(kv.Key), version, kv.Value
		}
	}
	if bestKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Base())
	}
	return decodeEtcdValue(bestKey, bestValue)
}

// Close releases the client when the source created it.
func (s *EtcdSource) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func decodeEtcdValue(key string, value []byte) (*manifest.Manifest, error) {
	m, err := manifest.Parse(value, manifest.FormatJSON)
	if err != nil {
		return nil, &ParseError{Location: key, Err: err}
	}
	return m, nil
}
