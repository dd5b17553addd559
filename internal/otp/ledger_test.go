package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront-guard/internal/hashing"
	"storefront-guard/internal/sms"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentMessage struct {
	to   string
	body string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *recordingSender) Send(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type ledgerFixture struct {
	ledger *Ledger
	store  *MemoryStore
	sender *recordingSender
	clock  *testClock
	codes  []string
}

func newLedgerFixture(t *testing.T, cfg Config, codes ...string) *ledgerFixture {
	t.Helper()

	f := &ledgerFixture{
		store:  NewMemoryStore(),
		sender: &recordingSender{},
		clock:  &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		codes:  codes,
	}

	hasher := hashing.New(hashing.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, "test-pepper")

	var next int32
	gen := func() (string, error) {
		i := int(atomic.AddInt32(&next, 1)) - 1
		if i < len(f.codes) {
			return f.codes[i], nil
		}
		return GenerateCode()
	}

	f.ledger = NewLedger(f.store, hasher, f.sender, cfg, zap.NewNop(),
		WithClock(f.clock.Now),
		WithCodeGenerator(gen),
	)
	return f
}

func TestIssueStoresHashedRecordAndSends(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "123456")

	res, err := f.ledger.Issue(context.Background(), "9876543210")
	require.NoError(t, err)
	assert.Equal(t, CodeOTPSent, res.Code)
	assert.Equal(t, "+919876543210", res.Phone)
	assert.Equal(t, f.clock.Now().Add(DefaultValidity), res.ExpiresAt)

	rec, err := f.store.Get(context.Background(), "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Attempts)
	assert.NotContains(t, rec.Hash.Hash, "123456")

	require.Equal(t, 1, f.sender.count())
	assert.Equal(t, "+919876543210", f.sender.sent[0].to)
	assert.Contains(t, f.sender.sent[0].body, "123456")
	assert.Contains(t, f.sender.sent[0].body, "5 minutes")
}

func TestIssueRejectsInvalidPhone(t *testing.T) {
	f := newLedgerFixture(t, Config{})

	_, err := f.ledger.Issue(context.Background(), "12345")
	assert.ErrorIs(t, err, ErrInvalidFormat)
	assert.Equal(t, CodeInvalidFormat, CodeOf(err))
	assert.Zero(t, f.sender.count())
	assert.Zero(t, f.store.Len())
}

func TestVerifySucceedsExactlyOnce(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "123456")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	res, err := f.ledger.Verify(ctx, "+91 98765 43210", "123456")
	require.NoError(t, err)
	assert.Equal(t, CodeOTPVerified, res.Code)

	_, err = f.ledger.Verify(ctx, "9876543210", "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
	assert.Equal(t, CodeOTPNotFound, CodeOf(err))
}

func TestVerifyLocksOutAfterMaxAttempts(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "123456")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	for want := 2; want >= 0; want-- {
		_, err = f.ledger.Verify(ctx, "9876543210", "000000")
		require.ErrorIs(t, err, ErrInvalidOTP)

		var invalid *InvalidOTPError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, want, invalid.Remaining())
		assert.Contains(t, err.Error(), fmt.Sprintf("%d attempts remaining", want))
	}

	_, err = f.ledger.Verify(ctx, "9876543210", "123456")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, CodeTooManyAttempts, CodeOf(err))

	_, err = f.ledger.Verify(ctx, "9876543210", "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)
}

func TestVerifyAfterWrongAttemptsStillAcceptsCorrectCode(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "123456")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	_, err = f.ledger.Verify(ctx, "9876543210", "111111")
	require.ErrorIs(t, err, ErrInvalidOTP)
	_, err = f.ledger.Verify(ctx, "9876543210", "222222")
	require.ErrorIs(t, err, ErrInvalidOTP)

	res, err := f.ledger.Verify(ctx, "9876543210", "123456")
	require.NoError(t, err)
	assert.Equal(t, CodeOTPVerified, res.Code)
}

func TestVerifyExpiry(t *testing.T) {
	f := newLedgerFixture(t, Config{Validity: time.Minute}, "123456", "654321")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	f.clock.Advance(time.Minute + time.Millisecond)
	_, err = f.ledger.Verify(ctx, "9876543210", "123456")
	assert.ErrorIs(t, err, ErrOTPExpired)
	assert.Zero(t, f.store.Len())

	_, err = f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.ledger.Verify(ctx, "9876543210", "654321")
	assert.NoError(t, err, "the expiry instant itself is still valid")
}

func TestReissueReplacesRecord(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "111111", "222222")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)
	_, err = f.ledger.Verify(ctx, "9876543210", "000000")
	require.ErrorIs(t, err, ErrInvalidOTP)

	_, err = f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	rec, err := f.store.Get(ctx, "+919876543210")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Attempts)

	_, err = f.ledger.Verify(ctx, "9876543210", "111111")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	_, err = f.ledger.Verify(ctx, "9876543210", "222222")
	assert.NoError(t, err)
}

func TestIssueDeliveryFailure(t *testing.T) {
	tests := []struct {
		name       string
		sendErr    error
		invalidate bool
		wantKind   error
		wantCode   Code
		wantStored int
	}{
		{
			name:       "auth failure keeps record",
			sendErr:    fmt.Errorf("%w: bad token", sms.ErrAuthentication),
			wantKind:   ErrAuthFailed,
			wantCode:   CodeAuthFailed,
			wantStored: 1,
		},
		{
			name:       "unknown recipient",
			sendErr:    fmt.Errorf("%w: 21211", sms.ErrInvalidRecipient),
			wantKind:   ErrInvalidPhone,
			wantCode:   CodeInvalidPhone,
			wantStored: 1,
		},
		{
			name:       "generic failure invalidates when configured",
			sendErr:    errors.New("provider timeout"),
			invalidate: true,
			wantKind:   ErrSMSFailed,
			wantCode:   CodeSMSFailed,
			wantStored: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t, Config{InvalidateOnDeliveryFailure: tt.invalidate}, "123456")
			f.sender.err = tt.sendErr

			res, err := f.ledger.Issue(context.Background(), "9876543210")
			assert.Nil(t, res)
			require.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantCode, CodeOf(err))

			var derr *DeliveryError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.sendErr.Error(), derr.Details())
			assert.Equal(t, tt.wantStored, f.store.Len())
		})
	}
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	f := newLedgerFixture(t, Config{}, "123456")
	ctx := context.Background()

	_, err := f.ledger.Issue(ctx, "9876543210")
	require.NoError(t, err)

	var successes, notFound int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Verify(ctx, "9876543210", "123456")
			switch {
			case err == nil:
				atomic.AddInt32(&successes, 1)
			case errors.Is(err, ErrOTPNotFound):
				atomic.AddInt32(&notFound, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(7), notFound)
}

func TestVerifyUnknownPhone(t *testing.T) {
	f := newLedgerFixture(t, Config{})

	_, err := f.ledger.Verify(context.Background(), "9876543210", "123456")
	assert.ErrorIs(t, err, ErrOTPNotFound)

	_, err = f.ledger.Verify(context.Background(), "123", "123456")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}
