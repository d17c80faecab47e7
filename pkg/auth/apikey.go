package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	apiKeyPrefix    = "gsraster:apikey:"
	apiKeySecretLen = 32
	plainKeyPrefix  = "gsr_"
)

// APIKeyStore stores and validates API keys.
type APIKeyStore interface {
	ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error)
	CreateKey(ctx context.Context, info APIKeyInfo) (string, error)
	RevokeKey(ctx context.Context, keyID string) error
	ListKeys(ctx context.Context, owner string) ([]APIKeyInfo, error)
}

// APIKeyInfo describes one API key. Only the SHA-256 of the key is kept.
type APIKeyInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"key_hash,omitempty"`
	Owner     string `json:"owner"`
	Role      Role   `json:"role"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"` // 0 = never
	LastUsed  int64  `json:"last_used,omitempty"`
}

// Claims turns the key into the same identity a bearer token carries.
func (i *APIKeyInfo) Claims() *Claims {
	c := &Claims{Role: i.Role}
	c.Subject = i.Owner
	c.ID = i.ID
	return c
}

// RedisAPIKeyStore keeps API keys next to the request stream in Redis.
type RedisAPIKeyStore struct {
	client *redis.Client
}

func NewRedisAPIKeyStore(client *redis.Client) *RedisAPIKeyStore {
	return &RedisAPIKeyStore{client: client}
}

func (s *RedisAPIKeyStore) ValidateKey(ctx context.Context, key string) (*APIKeyInfo, error) {
	keyHash := hashKey(key)

	data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to lookup key: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key info: %w", err)
	}

	now := time.Now()
	if info.ExpiresAt > 0 && info.ExpiresAt < now.Unix() {
		return nil, ErrExpiredToken
	}

	touched := info
	touched.LastUsed = now.Unix()
	if data, err := json.Marshal(touched); err == nil {
		// KEEPTTL leaves the expiry set at creation in place.
		s.client.SetArgs(ctx, apiKeyPrefix+keyHash, data, redis.SetArgs{KeepTTL: true})
	}

	return &touched, nil
}

// CreateKey stores info under a fresh key and returns the key. The key is
// not recoverable afterwards.
func (s *RedisAPIKeyStore) CreateKey(ctx context.Context, info APIKeyInfo) (string, error) {
	if !info.Role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidClaims, info.Role)
	}
	if info.Owner == "" {
		return "", fmt.Errorf("%w: owner is required", ErrInvalidClaims)
	}

	secret := make([]byte, apiKeySecretLen)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	plainKey := plainKeyPrefix + hex.EncodeToString(secret)

	info.KeyHash = hashKey(plainKey)
	info.CreatedAt = time.Now().Unix()
	if info.ID == "" {
		idBytes := make([]byte, 8)
		_, _ = rand.Read(idBytes)
		info.ID = "key_" + hex.EncodeToString(idBytes)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key info: %w", err)
	}

	var ttl time.Duration
	if info.ExpiresAt > 0 {
		ttl = time.Until(time.Unix(info.ExpiresAt, 0))
		if ttl <= 0 {
			return "", ErrExpiredToken
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, apiKeyPrefix+info.KeyHash, data, ttl)
	pipe.Set(ctx, apiKeyPrefix+"id:"+info.ID, info.KeyHash, ttl)
	pipe.SAdd(ctx, apiKeyPrefix+"owner:"+info.Owner, info.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}

	return plainKey, nil
}

func (s *RedisAPIKeyStore) RevokeKey(ctx context.Context, keyID string) error {
	keyHash, err := s.client.Get(ctx, apiKeyPrefix+"id:"+keyID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidToken
		}
		return fmt.Errorf("failed to lookup key: %w", err)
	}

	data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
	if err != nil {
		return fmt.Errorf("failed to get key info: %w", err)
	}

	var info APIKeyInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("failed to unmarshal key info: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, apiKeyPrefix+keyHash)
	pipe.Del(ctx, apiKeyPrefix+"id:"+keyID)
	pipe.SRem(ctx, apiKeyPrefix+"owner:"+info.Owner, keyID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	return nil
}

// ListKeys returns owner's live keys without their hashes. Keys that expired
// are dropped from the owner set as they are found.
func (s *RedisAPIKeyStore) ListKeys(ctx context.Context, owner string) ([]APIKeyInfo, error) {
	ownerSet := apiKeyPrefix + "owner:" + owner
	keyIDs, err := s.client.SMembers(ctx, ownerSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	keys := []APIKeyInfo{}
	for _, keyID := range keyIDs {
		keyHash, err := s.client.Get(ctx, apiKeyPrefix+"id:"+keyID).Result()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, ownerSet, keyID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lookup key %s: %w", keyID, err)
		}

		data, err := s.client.Get(ctx, apiKeyPrefix+keyHash).Bytes()
		if err != nil {
			continue
		}

		var info APIKeyInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		info.KeyHash = ""
		keys = append(keys, info)
	}
	return keys, nil
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
