package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-guard/internal/client"
	"storefront-guard/internal/hashing"
	"storefront-guard/internal/otp"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := client.WrapRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), zap.NewNop())
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestOTPStoreRoundTrip(t *testing.T) {
	rc, mr := newTestClient(t)
	store := NewOTPStore(rc, time.Minute, zap.NewNop())
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.Get(ctx, "+919876543210")
	assert.ErrorIs(t, err, otp.ErrRecordNotFound)

	rec := &otp.Record{
		Hash:      hashing.HashResult{Hash: "h", Salt: "s", PepperVersion: 2, Algorithm: "argon2id-v1"},
		ExpiresAt: now.Add(5 * time.Minute),
		IssuedAt:  now,
		Attempts:  1,
	}
	require.NoError(t, store.Put(ctx, "+919876543210", rec))
	assert.Equal(t, 6*time.Minute, mr.TTL(otpPrefix+"+919876543210"))

	got, err := store.Get(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, 1, got.Attempts)
	assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, store.Delete(ctx, "+919876543210"))
	_, err = store.Get(ctx, "+919876543210")
	assert.ErrorIs(t, err, otp.ErrRecordNotFound)
}

func TestOTPStoreBacksLedger(t *testing.T) {
	rc, _ := newTestClient(t)
	hasher := hashing.New(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, "pepper")

	var sent string
	sender := senderFunc(func(_ context.Context, _, body string) error {
		sent = body
		return nil
	})
	ledger := otp.NewLedger(NewOTPStore(rc, 0, zap.NewNop()), hasher, sender, otp.Config{}, zap.NewNop(),
		otp.WithLocker(NewLocker(rc, 0, zap.NewNop())),
		otp.WithCodeGenerator(func() (string, error) { return "424242", nil }),
	)
	ctx := context.Background()

	_, err := ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)
	assert.Contains(t, sent, "424242")

	_, err = ledger.Verify(ctx, "9876543210", "000000")
	var invalid *otp.InvalidOTPError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, 2, invalid.Remaining())

	res, err := ledger.Verify(ctx, "9876543210", "424242")
	require.NoError(t, err)
	assert.Equal(t, otp.CodeOTPVerified, res.Code)
}

type senderFunc func(ctx context.Context, to, body string) error

func (f senderFunc) Send(ctx context.Context, to, body string) error { return f(ctx, to, body) }

func TestLockerMutualExclusion(t *testing.T) {
	rc, mr := newTestClient(t)
	locker := NewLocker(rc, time.Second, zap.NewNop())

	var (
		inside  int32
		overlap int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "+919876543210")
			if !assert.NoError(t, err) {
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.False(t, mr.Exists(otpLockPrefix+"+919876543210"))
}

func TestLockerHonoursContext(t *testing.T) {
	rc, _ := newTestClient(t)
	locker := NewLocker(rc, time.Minute, zap.NewNop())

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLockerReleaseKeepsForeignLock(t *testing.T) {
	rc, mr := newTestClient(t)
	locker := NewLocker(rc, time.Minute, zap.NewNop())

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	require.NoError(t, mr.Set(otpLockPrefix+"k", "someone-else"))
	unlock()

	v, err := mr.Get(otpLockPrefix + "k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestSendLimiter(t *testing.T) {
	rc, mr := newTestClient(t)
	limiter := NewSendLimiter(rc, 2, time.Minute, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "+919876543210")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "+919876543210")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "+919876543210")
	require.NoError(t, err)
	assert.True(t, ok)
}
