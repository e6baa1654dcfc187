package escrow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wiredan/wiredan/internal/fees"
	"github.com/wiredan/wiredan/internal/idgen"
	"github.com/wiredan/wiredan/internal/ledger"
	"github.com/wiredan/wiredan/internal/orders"
	"github.com/wiredan/wiredan/internal/paystack"
)

var (
	buyer  = Actor{ID: "buyer_1"}
	seller = Actor{ID: "seller_1"}
	admin  = Actor{ID: "admin_1", Admin: true}
)

// fakeGateway stands in for the provider.
type fakeGateway struct {
	mu        sync.Mutex
	inits     []paystack.InitializeRequest
	initErr   error
	results   map[string]*paystack.PaymentResult
	verifyErr error
	refunds   []string
	refundErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]*paystack.PaymentResult)}
}

func (g *fakeGateway) Initialize(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.inits = append(g.inits, req)
	return &paystack.InitResult{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.test/" + req.Reference,
		AccessCode:       "ac_" + req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*paystack.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	res, ok := g.results[reference]
	if !ok {
		return nil, &paystack.GatewayError{Op: "verify", StatusCode: 404, Detail: "Transaction reference not found"}
	}
	cp := *res
	return &cp, nil
}

func (g *fakeGateway) Refund(ctx context.Context, reference string, amountMinor int64) (*paystack.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, fmt.Sprintf("%s:%d", reference, amountMinor))
	return &paystack.RefundResult{Accepted: true, Status: "pending"}, nil
}

func (g *fakeGateway) lastInit() paystack.InitializeRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inits[len(g.inits)-1]
}

type testEnv struct {
	orders *orders.MemoryStore
	ledger *ledger.MemoryStore
	store  *MemoryStore
	gw     *fakeGateway
	svc    *Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rate := decimal.RequireFromString("0.02")
	schedule, err := fees.NewSchedule(rate, rate)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	env := &testEnv{
		orders: orders.NewMemoryStore(),
		ledger: ledger.NewMemoryStore(),
		gw:     newFakeGateway(),
	}
	env.store = NewMemoryStore(env.orders, env.ledger)
	env.svc = NewService(env.store, env.orders, env.gw, schedule).WithLogger(discardLogger())
	return env
}

// placeOrder creates an order in created status between buyer_1 and seller_1.
func (env *testEnv) placeOrder(t *testing.T, total int64) *orders.Order {
	t.Helper()
	now := time.Now()
	o := &orders.Order{
		ID:         idgen.WithPrefix("ord_"),
		ListingID:  "lst_1",
		BuyerID:    buyer.ID,
		SellerID:   seller.ID,
		Quantity:   1,
		TotalMinor: total,
		Currency:   "NGN",
		Status:     orders.StatusCreated,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := env.orders.Create(context.Background(), o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// holdOrder places an order and drives it to paid_escrow.
func (env *testEnv) holdOrder(t *testing.T, total int64) (*orders.Order, *Escrow) {
	t.Helper()
	ctx := context.Background()
	o := env.placeOrder(t, total)
	res, err := env.svc.InitEscrow(ctx, o.ID, "buyer@example.com", buyer)
	if err != nil {
		t.Fatalf("InitEscrow: %v", err)
	}
	e, applied, err := env.svc.ConfirmHeld(ctx, o.ID, res.Reference, res.Escrow.ExpectedCharge())
	if err != nil || !applied {
		t.Fatalf("ConfirmHeld: applied=%v err=%v", applied, err)
	}
	return o, e
}

func (env *testEnv) orderStatus(t *testing.T, id string) orders.Status {
	t.Helper()
	o, err := env.orders.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	return o.Status
}

func (env *testEnv) balance(t *testing.T, owner string) int64 {
	t.Helper()
	bal, err := ledger.New(env.ledger).Balance(context.Background(), owner, "NGN")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (env *testEnv) entries(t *testing.T, orderID string) []*ledger.Entry {
	t.Helper()
	entries, err := env.ledger.EntriesForOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	return entries
}
