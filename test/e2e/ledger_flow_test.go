package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/points-ledger/internal/handlers"
	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/nimasrn/points-ledger/internal/processor"
	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/internal/services"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
	"github.com/nimasrn/points-ledger/pkg/redis"
	"github.com/nimasrn/points-ledger/test/fixtures"
	"github.com/nimasrn/points-ledger/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

type TestEnvironment struct {
	Store     *repository.LedgerRepository
	Redis     *miniredis.Miniredis
	Adapter   redis.RedisAdapter
	Sink      *services.ChannelSink
	Relay     *processor.EventRelay
	Auditor   *processor.AuditProcessor
	Processor *processor.ProcessorService
	Client    *fasthttp.HostClient

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	env := &TestEnvironment{Store: helpers.SetupTestStore(t)}
	env.Redis, env.Adapter = helpers.SetupTestRedis(t)

	queueConfig := queue.QueueConfig{
		Name:              "test:ledger:events",
		ConsumerGroup:     "test-audit",
		ConsumerName:      "test-auditor",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      20 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel

	publisher, err := queue.NewQueue(ctx, env.Adapter, queueConfig)
	require.NoError(t, err)

	env.Sink = services.NewChannelSink(256)
	env.Relay = processor.NewEventRelay(env.Sink.Events(), publisher)
	env.wg.Add(1)
	go func() {
		defer env.wg.Done()
		env.Relay.Run(ctx)
	}()

	projector := services.NewBalanceProjector(env.Store, 2)
	idempotency := processor.NewIdempotencyService(env.Adapter, processor.DefaultIdempotencyConfig())
	env.Auditor = processor.NewAuditProcessor(projector, idempotency, env.Adapter)
	env.Processor = processor.NewProcessorService(env.Adapter, env.Auditor, processor.ServiceConfig{
		Queue:     queueConfig,
		Consumers: 2,
		Workers:   4,
	})
	require.NoError(t, env.Processor.Start())

	ids := identifier.NewGenerator()
	policy, err := services.NewEarningPolicy("2.50", 1)
	require.NoError(t, err)

	s := xhttp.CreateServer()
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	g := s.Router.Group("/api/v1")
	handlers.RegisterMemberRoutes(g, handlers.NewMemberHandler(services.NewMembershipService(env.Store, ids, env.Sink)))
	handlers.RegisterTransactionRoutes(g, handlers.NewTransactionHandler(
		services.NewTransactionProcessor(env.Store, ids, env.Sink, services.WithEarningPolicy(policy))))
	handlers.RegisterLedgerRoutes(g, handlers.NewLedgerHandler(projector, services.NewReportingService(env.Store),
		handlers.PageLimits{Default: 10, Max: 50}))
	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(env.Store))
	s.DoRouting()

	ln := fasthttputil.NewInmemoryListener()
	env.wg.Add(1)
	go func() {
		defer env.wg.Done()
		_ = s.Server.Serve(ln)
	}()
	env.Client = &fasthttp.HostClient{
		Addr: "ledger.test",
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}

	t.Cleanup(func() {
		_ = s.Server.Shutdown()
		env.Processor.Stop()
		env.Sink.Close()
		env.cancel()
		env.wg.Wait()
	})
	return env
}

func (env *TestEnvironment) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(method)
	req.SetRequestURI("http://ledger.test" + path)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}
	require.NoError(t, env.Client.DoTimeout(req, res, 5*time.Second))
	return res.StatusCode(), append([]byte(nil), res.Body()...)
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func (env *TestEnvironment) register(t *testing.T, req model.RegisterRequest) *model.Member {
	status, body := env.do(t, "POST", "/api/v1/members", req)
	require.Equal(t, 201, status, string(body))
	return decode[*model.Member](t, body)
}

func (env *TestEnvironment) balance(t *testing.T, memberID string) int64 {
	status, body := env.do(t, "GET", "/api/v1/members/"+memberID+"/balance", nil)
	require.Equal(t, 200, status, string(body))
	return decode[struct{ Balance int64 }](t, body).Balance
}

func TestE2E_EarnRedeemReplay(t *testing.T) {
	env := setupE2EEnvironment(t)
	member := env.register(t, fixtures.Ada)
	assert.True(t, identifier.IsMembershipID(member.MemberID))

	status, body := env.do(t, "POST", "/api/v1/transactions", fixtures.Earn("tx-1", member.MemberID, 100))
	require.Equal(t, 200, status, string(body))
	first := decode[*model.Transaction](t, body)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(100), first.ResultingBalance)

	status, body = env.do(t, "POST", "/api/v1/transactions", fixtures.Redeem("tx-2", member.MemberID, 150))
	assert.Equal(t, 422, status)
	assert.Equal(t, "insufficient_balance", decode[map[string]string](t, body)["code"])
	assert.Equal(t, int64(100), env.balance(t, member.MemberID))

	status, _ = env.do(t, "POST", "/api/v1/transactions", fixtures.Redeem("tx-3", member.MemberID, 100))
	require.Equal(t, 200, status)

	status, body = env.do(t, "POST", "/api/v1/transactions", fixtures.Earn("tx-1", member.MemberID, 100))
	require.Equal(t, 200, status)
	assert.Equal(t, first, decode[*model.Transaction](t, body))

	status, body = env.do(t, "POST", "/api/v1/transactions", fixtures.Earn("tx-1", member.MemberID, 5))
	assert.Equal(t, 409, status, string(body))

	assert.Equal(t, int64(0), env.balance(t, member.MemberID))

	status, body = env.do(t, "GET", "/api/v1/members/"+member.MemberID+"/transactions?limit=1", nil)
	require.Equal(t, 200, status)
	page := decode[model.TransactionPage](t, body)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "tx-1", page.Items[0].TransactionID)
	assert.Equal(t, int64(1), page.NextCursor)

	status, body = env.do(t, "GET", fmt.Sprintf("/api/v1/members/%s/transactions?cursor=%d", member.MemberID, page.NextCursor), nil)
	require.Equal(t, 200, status)
	page = decode[model.TransactionPage](t, body)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "tx-3", page.Items[0].TransactionID)
	assert.Zero(t, page.NextCursor)

	status, body = env.do(t, "GET", "/api/v1/members/"+member.MemberID+"/audit", nil)
	require.Equal(t, 200, status)
	report := decode[model.AuditReport](t, body)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(2), report.Entries)
}

func TestE2E_PurchaseEarning(t *testing.T) {
	env := setupE2EEnvironment(t)
	member := env.register(t, fixtures.Grace)

	status, body := env.do(t, "POST", "/api/v1/transactions/purchase", fixtures.Purchase("p-1", member.MemberID, "26.00"))
	require.Equal(t, 200, status, string(body))
	tx := decode[*model.Transaction](t, body)
	assert.Equal(t, int64(10), tx.Points)
	assert.Equal(t, model.KindEarn, tx.Kind)

	status, _ = env.do(t, "POST", "/api/v1/transactions/purchase", fixtures.Purchase("p-2", member.MemberID, "1.00"))
	assert.Equal(t, 400, status)
}

func TestE2E_MemberLifecycle(t *testing.T) {
	env := setupE2EEnvironment(t)
	member := env.register(t, fixtures.Ada)

	status, body := env.do(t, "GET", "/api/v1/members/"+member.QRCode, nil)
	require.Equal(t, 200, status)
	assert.Equal(t, member.MemberID, decode[*model.Member](t, body).MemberID)

	status, body = env.do(t, "POST", "/api/v1/members/"+member.MemberID+"/qr/reissue", nil)
	require.Equal(t, 200, status)
	reissued := decode[map[string]string](t, body)
	assert.NotEqual(t, member.QRCode, reissued["qrCode"])

	status, _ = env.do(t, "GET", "/api/v1/members/"+member.QRCode, nil)
	assert.Equal(t, 404, status)
	status, body = env.do(t, "GET", "/api/v1/members/"+reissued["qrCode"], nil)
	require.Equal(t, 200, status)
	assert.Equal(t, member.MemberID, decode[*model.Member](t, body).MemberID)

	status, body = env.do(t, "GET", "/api/v1/members/"+member.MemberID+"/qr", nil)
	require.Equal(t, 200, status)
	assert.Len(t, decode[struct{ Items []model.QRCodeRecord }](t, body).Items, 2)

	status, body = env.do(t, "GET", "/api/v1/members?contact=%2B441234567890", nil)
	require.Equal(t, 200, status)
	assert.Len(t, decode[struct{ Items []model.Member }](t, body).Items, 1)

	status, _ = env.do(t, "POST", "/api/v1/members/"+member.MemberID+"/status", map[string]string{"status": "suspended"})
	require.Equal(t, 200, status)
	status, _ = env.do(t, "POST", "/api/v1/transactions", fixtures.Earn("", member.MemberID, 10))
	assert.Equal(t, 400, status)

	status, _ = env.do(t, "POST", "/api/v1/members/"+member.MemberID+"/status", map[string]string{"status": "closed"})
	require.Equal(t, 200, status)
	status, _ = env.do(t, "POST", "/api/v1/members/"+member.MemberID+"/status", map[string]string{"status": "active"})
	assert.Equal(t, 400, status)

	for _, req := range fixtures.InvalidRegisterRequests {
		status, _ = env.do(t, "POST", "/api/v1/members", req)
		assert.Equal(t, 400, status)
	}
}

func TestE2E_ConcurrentEarns(t *testing.T) {
	env := setupE2EEnvironment(t)
	member := env.register(t, fixtures.Ada)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status, body := env.do(t, "POST", "/api/v1/transactions", fixtures.Earn(fmt.Sprintf("c-%d", i), member.MemberID, 5))
			assert.Equal(t, 200, status, string(body))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(n*5), env.balance(t, member.MemberID))
}

func TestE2E_StatsAndHealth(t *testing.T) {
	env := setupE2EEnvironment(t)
	a := env.register(t, fixtures.Ada)
	env.register(t, fixtures.Grace)

	status, _ := env.do(t, "POST", "/api/v1/transactions", fixtures.Earn("s-1", a.MemberID, 40))
	require.Equal(t, 200, status)
	status, _ = env.do(t, "POST", "/api/v1/transactions", fixtures.Redeem("s-2", a.MemberID, 15))
	require.Equal(t, 200, status)
	status, _ = env.do(t, "POST", "/api/v1/transactions", fixtures.Adjust("s-3", a.MemberID, -5, "correction"))
	require.Equal(t, 200, status)

	status, body := env.do(t, "GET", "/api/v1/stats", nil)
	require.Equal(t, 200, status)
	stats := decode[model.LedgerStats](t, body)
	assert.Equal(t, int64(2), stats.TotalMembers)
	assert.Equal(t, int64(3), stats.TransactionCount)
	assert.Equal(t, int64(40), stats.PointsEarned)
	assert.Equal(t, int64(15), stats.PointsRedeemed)

	status, _ = env.do(t, "GET", "/health", nil)
	assert.Equal(t, 200, status)
}

func TestE2E_EventsAreAudited(t *testing.T) {
	env := setupE2EEnvironment(t)
	member := env.register(t, fixtures.Ada)
	for i := 1; i <= 5; i++ {
		status, _ := env.do(t, "POST", "/api/v1/transactions", fixtures.Earn(fmt.Sprintf("a-%d", i), member.MemberID, int64(i)))
		require.Equal(t, 200, status)
	}

	// one registration plus five commits
	helpers.AssertEventually(t, 5*time.Second, func() bool {
		return env.Relay.Published() == 6 && env.Processor.Metrics().Processed == 6
	}, "ledger events were not audited")

	assert.Zero(t, env.Auditor.Mismatches())
	assert.Zero(t, env.Relay.Failed())
	assert.Zero(t, env.Sink.Dropped())

	watermark, err := env.Redis.Get("audit:verified:" + member.MemberID)
	require.NoError(t, err)
	assert.Equal(t, "5", watermark)
}
