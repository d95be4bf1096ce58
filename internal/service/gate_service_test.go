package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"creditgate/internal/model"
	"creditgate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	calls atomic.Int64
	fn    func(ctx context.Context, instruction string, maxTokens int) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, instruction string, maxTokens int) (string, error) {
	g.calls.Add(1)
	return g.fn(ctx, instruction, maxTokens)
}

func okGenerator(text string) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, string, int) (string, error) {
		return text, nil
	}}
}

func newTestGate(t *testing.T, gen Generator) (*GateService, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := testConfig()
	svc := NewGateService(db, gen, &cfg.Generation, zap.NewNop())
	svc.refundBackoff = time.Millisecond
	return svc, db
}

func TestGateService_ValidationLeavesStoreUntouched(t *testing.T) {
	gen := okGenerator("nice")
	svc, db := newTestGate(t, gen)

	cases := []*GenerateRequest{
		{Identity: "", Prompt: "p", Tone: "fun"},
		{Identity: "u1", Prompt: "  ", Tone: "fun"},
		{Identity: "u1", Prompt: "p", Tone: ""},
		{Identity: strings.Repeat("x", 129), Prompt: "p", Tone: "fun"},
	}
	for _, req := range cases {
		_, err := svc.Generate(context.Background(), req)
		assert.ErrorIs(t, err, ErrValidation)
	}

	var count int64
	require.NoError(t, db.Model(&model.Account{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, gen.calls.Load())
}

func TestGateService_NoCredits(t *testing.T) {
	gen := okGenerator("nice")
	svc, db := newTestGate(t, gen)

	_, err := svc.Generate(context.Background(), &GenerateRequest{Identity: "u1", Prompt: "post", Tone: "fun"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Zero(t, gen.calls.Load())

	// 账户被惰性创建，余额为 0
	assert.Equal(t, int64(0), balanceOf(t, db, "u1"))
	var count int64
	require.NoError(t, db.Model(&model.Account{}).Where("identity = ?", "u1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGateService_Success(t *testing.T) {
	var gotInstruction string
	var gotMaxTokens int
	gen := &fakeGenerator{fn: func(_ context.Context, instruction string, maxTokens int) (string, error) {
		gotInstruction, gotMaxTokens = instruction, maxTokens
		return "  Très bon post !  ", nil
	}}
	svc, db := newTestGate(t, gen)
	seedCredits(t, db, "u1", 3, "")

	res, err := svc.Generate(context.Background(), &GenerateRequest{Identity: "u1", Prompt: "Mon post", Tone: "enthousiaste"})
	require.NoError(t, err)
	assert.Equal(t, "Très bon post !", res.Comment)
	assert.Equal(t, int64(2), balanceOf(t, db, "u1"))

	assert.Contains(t, gotInstruction, "commentaire enthousiaste")
	assert.Contains(t, gotInstruction, `"Mon post"`)
	assert.Equal(t, 300, gotMaxTokens)
}

func TestGateService_RefundOnFailure(t *testing.T) {
	cases := map[string]func(ctx context.Context, instruction string, maxTokens int) (string, error){
		"error": func(context.Context, string, int) (string, error) {
			return "", errors.New("503 from upstream")
		},
		"empty": func(context.Context, string, int) (string, error) {
			return "   ", nil
		},
		"timeout": func(ctx context.Context, _ string, _ int) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			svc, db := newTestGate(t, &fakeGenerator{fn: fn})
			svc.timeout = 20 * time.Millisecond
			seedCredits(t, db, "u1", 5, "")

			_, err := svc.Generate(context.Background(), &GenerateRequest{Identity: "u1", Prompt: "post", Tone: "fun"})
			assert.ErrorIs(t, err, ErrUpstream)
			assert.Equal(t, int64(5), balanceOf(t, db, "u1"))
		})
	}
}

func TestGateService_ConcurrentRequestsNeverOverspend(t *testing.T) {
	const credits, requests = 5, 20

	gen := okGenerator("ok")
	svc, db := newTestGate(t, gen)
	seedCredits(t, db, "u1", credits, "")

	var success, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), &GenerateRequest{Identity: "u1", Prompt: "post", Tone: "fun"})
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrInsufficientCredits):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(credits), success.Load())
	assert.Equal(t, int64(requests-credits), denied.Load())
	assert.Equal(t, int64(0), balanceOf(t, db, "u1"))
	assert.Equal(t, int64(credits), gen.calls.Load())
}

func TestGateService_ConcurrentFailuresAreRefunded(t *testing.T) {
	const credits = 10

	var n atomic.Int64
	gen := &fakeGenerator{fn: func(context.Context, string, int) (string, error) {
		if n.Add(1)%2 == 0 {
			return "", errors.New("upstream down")
		}
		return "ok", nil
	}}
	svc, db := newTestGate(t, gen)
	seedCredits(t, db, "u1", credits, "")

	var success atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < credits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Generate(context.Background(), &GenerateRequest{Identity: "u1", Prompt: "post", Tone: "fun"}); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	// 每次失败都退回，余额 = 初始额度 - 成功次数
	assert.Equal(t, int64(credits/2), success.Load())
	assert.Equal(t, credits-success.Load(), balanceOf(t, db, "u1"))
}
