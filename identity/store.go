package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goRealtime "github.com/MrEthical07/goRealtime"
	"github.com/redis/go-redis/v9"
)

const (
	fieldRole        = "role"
	fieldActive      = "active"
	fieldDisplayName = "display_name"
)

var (
	// ErrRedisUnavailable wraps every Redis transport failure.
	ErrRedisUnavailable = errors.New("identity redis unavailable")
	// ErrEmptySubject is returned when a subject ID is blank.
	ErrEmptySubject = errors.New("identity subject empty")
	// ErrCorruptRecord is returned when a stored principal cannot be decoded.
	ErrCorruptRecord = errors.New("identity record corrupt")
)

// RedisStore implements [goRealtime.IdentityStore] on Redis hashes.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a store keeping principals under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "principal"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(subjectID string) string {
	return s.prefix + ":" + subjectID
}

// LookupPrincipal returns the principal stored for subjectID. Unknown
// subjects yield an error wrapping [goRealtime.ErrPrincipalNotFound].
func (s *RedisStore) LookupPrincipal(ctx context.Context, subjectID string) (goRealtime.Principal, error) {
	if strings.TrimSpace(subjectID) == "" {
		return goRealtime.Principal{}, ErrEmptySubject
	}

	fields, err := s.redis.HGetAll(ctx, s.key(subjectID)).Result()
	if err != nil {
		return goRealtime.Principal{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return goRealtime.Principal{}, fmt.Errorf("%w: %s", goRealtime.ErrPrincipalNotFound, subjectID)
	}

	active, err := strconv.ParseBool(fields[fieldActive])
	if err != nil {
		return goRealtime.Principal{}, fmt.Errorf("%w: %s active=%q", ErrCorruptRecord, subjectID, fields[fieldActive])
	}

	return goRealtime.Principal{
		SubjectID:   subjectID,
		Role:        fields[fieldRole],
		IsActive:    active,
		DisplayName: fields[fieldDisplayName],
	}, nil
}

// SavePrincipal writes p, replacing any existing record.
func (s *RedisStore) SavePrincipal(ctx context.Context, p goRealtime.Principal) error {
	if strings.TrimSpace(p.SubjectID) == "" {
		return ErrEmptySubject
	}

	key := s.key(p.SubjectID)
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key,
		fieldRole, p.Role,
		fieldActive, strconv.FormatBool(p.IsActive),
		fieldDisplayName, p.DisplayName,
	)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// SetActive flips the active flag of an existing principal.
func (s *RedisStore) SetActive(ctx context.Context, subjectID string, active bool) error {
	if strings.TrimSpace(subjectID) == "" {
		return ErrEmptySubject
	}

	key := s.key(subjectID)
	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", goRealtime.ErrPrincipalNotFound, subjectID)
	}
	if err := s.redis.HSet(ctx, key, fieldActive, strconv.FormatBool(active)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Delete removes the principal. Deleting a missing principal is not an error.
func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.redis.Del(ctx, s.key(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
