// Package impl wires certificate management for hosts served over TLS.
package impl

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/caddyserver/certmagic"
	"github.com/libdns/porkbun"
	"github.com/redis/go-redis/v9"
)

const storagePrefix = "remotepad:tls:"

// CertStorage keeps certmagic state in redis so several host instances can
// share one certificate and take turns renewing it.
type CertStorage struct {
	rdb    *redis.Client
	locker *redislock.Client
	locks  sync.Map
}

var _ certmagic.Storage = (*CertStorage)(nil)

func NewCertStorage(rdb *redis.Client) *CertStorage {
	return &CertStorage{
		rdb:    rdb,
		locker: redislock.New(rdb),
	}
}

func (s *CertStorage) key(name string) string {
	return storagePrefix + name
}

func (s *CertStorage) Lock(ctx context.Context, name string) error {
	opts := &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(1 * time.Second),
	}

	lock, err := s.locker.Obtain(ctx, s.key("lock:"+name), 1*time.Minute, opts)
	if err != nil {
		return err
	}

	s.locks.Store(name, lock)
	return nil
}

func (s *CertStorage) Unlock(ctx context.Context, name string) error {
	lock, ok := s.locks.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("no lock for %v", name)
	}

	return lock.(*redislock.Lock).Release(ctx)
}

func (s *CertStorage) Store(ctx context.Context, key string, value []byte) error {
	hashmap := map[string]any{
		"modified": time.Now().Unix(),
		"data":     base64.RawURLEncoding.EncodeToString(value),
		"size":     len(value),
	}

	return s.rdb.HSet(ctx, s.key(key), hashmap).Err()
}

func (s *CertStorage) Load(ctx context.Context, key string) ([]byte, error) {
	res, err := s.rdb.HGet(ctx, s.key(key), "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fs.ErrNotExist
	} else if err != nil {
		return nil, err
	}

	return base64.RawURLEncoding.DecodeString(res)
}

func (s *CertStorage) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

func (s *CertStorage) Exists(ctx context.Context, key string) bool {
	res, err := s.rdb.Exists(ctx, s.key(key)).Result()
	return err == nil && res > 0
}

// List returns keys under prefix. Without recursive, only direct children are
// returned.
func (s *CertStorage) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	keys, err := s.rdb.Keys(ctx, s.key(prefix)+"*").Result()
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimPrefix(k, storagePrefix)
		if strings.HasPrefix(k, "lock:") {
			continue
		}

		rest := strings.TrimPrefix(strings.TrimPrefix(k, prefix), "/")
		if !recursive && strings.Contains(rest, "/") {
			continue
		}

		result = append(result, k)
	}

	return result, nil
}

func (s *CertStorage) Stat(ctx context.Context, key string) (certmagic.KeyInfo, error) {
	info := certmagic.KeyInfo{}

	res, err := s.rdb.HMGet(ctx, s.key(key), "modified", "size").Result()
	if err != nil {
		return info, err
	}

	if len(res) != 2 || res[0] == nil || res[1] == nil {
		return info, fs.ErrNotExist
	}

	modified, err := strconv.ParseInt(fmt.Sprint(res[0]), 10, 64)
	if err != nil {
		return info, err
	}

	size, err := strconv.ParseInt(fmt.Sprint(res[1]), 10, 64)
	if err != nil {
		return info, err
	}

	info.Key = key
	info.Modified = time.Unix(modified, 0)
	info.Size = size
	info.IsTerminal = true

	return info, nil
}

// TLSConfig obtains and renews a certificate for domain through a porkbun
// DNS challenge, storing it in redis.
func TLSConfig(domain, apiKey, apiSecret string, rdb *redis.Client) (*tls.Config, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("impl: porkbun credentials are required for tls")
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSProvider: &porkbun.Provider{
			APIKey:       apiKey,
			APISecretKey: apiSecret,
		},
	}

	certmagic.Default.Storage = NewCertStorage(rdb)

	return certmagic.TLS([]string{domain})
}
