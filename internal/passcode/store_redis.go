package passcode

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"balance-service/internal/domain"
	"balance-service/internal/errors"
)

// retention keeps records around past their logical expiry so validation can
// still distinguish Expired from NotFound before Redis evicts the key.
const retention = 2 * TTL

// RedisStore is the shared passcode store for multi-instance deployments.
// Records and attempt counters live under per-subject keys with a TTL, so a
// crashed instance leaves nothing behind that outlives the codes themselves.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(subject string) string  { return "passcode:" + subject }
func attemptKey(subject string) string { return "passcode-attempts:" + subject }

func (s *RedisStore) Put(ctx context.Context, rec domain.PasscodeRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode passcode record").WithDetails(err.Error())
	}
	if err := s.client.Set(ctx, recordKey(rec.Subject), payload, retention).Err(); err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	if err := s.client.Del(ctx, attemptKey(rec.Subject)).Err(); err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, subject string) (domain.PasscodeRecord, bool, error) {
	payload, err := s.client.Get(ctx, recordKey(subject)).Result()
	if err == redis.Nil {
		return domain.PasscodeRecord{}, false, nil
	}
	if err != nil {
		return domain.PasscodeRecord{}, false, errors.ErrStoreUnavailable.WithDetails(err.Error())
	}

	var rec domain.PasscodeRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return domain.PasscodeRecord{}, false, errors.NewAppError(errors.InternalError, "passcode record is corrupt").WithDetails(err.Error())
	}
	return rec, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, subject string) error {
	if err := s.client.Del(ctx, recordKey(subject), attemptKey(subject)).Err(); err != nil {
		return errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	return nil
}

func (s *RedisStore) IncrementAttempts(ctx context.Context, subject string) (int, error) {
	count, err := s.client.Incr(ctx, attemptKey(subject)).Result()
	if err != nil {
		return 0, errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	if err := s.client.Expire(ctx, attemptKey(subject), retention).Err(); err != nil {
		return 0, errors.ErrStoreUnavailable.WithDetails(err.Error())
	}
	return int(count), nil
}

var _ domain.PasscodeStore = (*RedisStore)(nil)
