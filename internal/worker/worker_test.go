package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/giftshop/internal/cart"
	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/email"
	"github.com/joao-fontenele/giftshop/internal/messaging"
	"github.com/joao-fontenele/giftshop/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingMailer struct {
	sent []email.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg email.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newNotificationHandler(mailer Mailer) *NotificationHandler {
	return NewNotificationHandler(mailer, domain.Settings{
		OpsEmail: "orders@example.com",
		SiteURL:  "https://shop.example.com/",
	}, nil, discardLogger())
}

func eventMessage(t *testing.T, event domain.OrderEvent) messaging.Message {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return messaging.Message{Key: event.OrderNumber, EventType: event.EventType(), Value: data}
}

func TestNotificationHandler(t *testing.T) {
	base := domain.OrderEvent{
		OrderNumber:   "ORD-01J",
		UserID:        "user-1",
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		PaymentMethod: domain.PaymentMethodRazorpay,
		TotalAmount:   decimal.NewFromInt(1750),
		ItemCount:     2,
	}

	tests := []struct {
		name        string
		mutate      func(e *domain.OrderEvent)
		wantTo      []string
		wantSubject string
		wantInBody  string
	}{
		{
			name:        "order created mails customer and operations",
			mutate:      func(e *domain.OrderEvent) { e.Type = domain.EventOrderCreated },
			wantTo:      []string{"asha@example.com", "orders@example.com"},
			wantSubject: "We received your order ORD-01J",
			wantInBody:  "total Rs. 1750.00",
		},
		{
			name: "status change",
			mutate: func(e *domain.OrderEvent) {
				e.Type = domain.EventStatusChanged
				e.PreviousStatus = domain.OrderStatusConfirmed
				e.Status = domain.OrderStatusShipped
			},
			wantTo:      []string{"asha@example.com"},
			wantSubject: "Your order ORD-01J is shipped",
			wantInBody:  "moved from confirmed to shipped",
		},
		{
			name:        "payment failed",
			mutate:      func(e *domain.OrderEvent) { e.Type = domain.EventPaymentFailed },
			wantTo:      []string{"asha@example.com"},
			wantSubject: "Payment for order ORD-01J did not go through",
			wantInBody:  "https://shop.example.com/orders/ORD-01J",
		},
		{
			name:        "feedback request",
			mutate:      func(e *domain.OrderEvent) { e.Type = domain.EventFeedbackRequested },
			wantTo:      []string{"asha@example.com"},
			wantSubject: "How was your order ORD-01J?",
			wantInBody:  "/orders/ORD-01J/feedback",
		},
		{
			name: "refund failed goes to operations only",
			mutate: func(e *domain.OrderEvent) {
				e.Type = domain.EventRefundFailed
				e.Reference = "rfnd_9"
			},
			wantTo:      []string{"orders@example.com"},
			wantSubject: "Refund failed for order ORD-01J",
			wantInBody:  "Refund rfnd_9",
		},
		{
			name: "abandoned cart",
			mutate: func(e *domain.OrderEvent) {
				e.Type = domain.EventCartAbandoned
				e.OrderNumber = ""
				e.CustomerName = ""
			},
			wantTo:      []string{"asha@example.com"},
			wantSubject: "You left something in your cart",
			wantInBody:  "Hi there,",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := base
			tt.mutate(&event)
			mailer := &recordingMailer{}

			err := newNotificationHandler(mailer).Handle(context.Background(), eventMessage(t, event))
			require.NoError(t, err)

			require.Len(t, mailer.sent, len(tt.wantTo))
			for i, to := range tt.wantTo {
				assert.Equal(t, to, mailer.sent[i].To)
			}
			assert.Equal(t, tt.wantSubject, mailer.sent[0].Subject)
			assert.Contains(t, mailer.sent[0].Body, tt.wantInBody)
		})
	}
}

func TestNotificationHandler_FailuresAreSwallowed(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("relay down")}
	h := newNotificationHandler(mailer)

	err := h.Handle(context.Background(), eventMessage(t, domain.OrderEvent{
		Type:          domain.EventStatusChanged,
		OrderNumber:   "ORD-01J",
		CustomerEmail: "asha@example.com",
	}))
	require.NoError(t, err)

	err = h.Handle(context.Background(), messaging.Message{Key: "ORD-01J", Value: []byte("not json")})
	require.NoError(t, err)
}

func TestNotificationHandler_NoRecipient(t *testing.T) {
	mailer := &recordingMailer{}

	err := newNotificationHandler(mailer).Handle(context.Background(), eventMessage(t, domain.OrderEvent{
		Type:        domain.EventStatusChanged,
		OrderNumber: "ORD-01J",
	}))

	require.NoError(t, err)
	assert.Empty(t, mailer.sent)
}

type recordingFeedback struct {
	orders []string
}

func (f *recordingFeedback) SendFeedbackRequest(_ context.Context, number string) error {
	f.orders = append(f.orders, number)
	return nil
}

func TestJobs(t *testing.T) {
	feedback := &recordingFeedback{}
	jobs := NewJobs(feedback, discardLogger())

	require.NoError(t, jobs.Handle(context.Background(), scheduler.Job{Kind: scheduler.JobFeedbackEmail, Ref: "ORD-01J"}))
	require.NoError(t, jobs.Handle(context.Background(), scheduler.Job{Kind: "unknown", Ref: "x"}))

	assert.Equal(t, []string{"ORD-01J"}, feedback.orders)
}

type stubAbandoned struct {
	mu      sync.Mutex
	batches [][]cart.Abandoned
	before  []time.Time
}

func (s *stubAbandoned) ClaimAbandoned(_ context.Context, before time.Time, _ int) ([]cart.Abandoned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = append(s.before, before)
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

type recordingNotifier struct {
	events []domain.OrderEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event domain.OrderEvent) {
	n.events = append(n.events, event)
}

func TestSweeper_Sweep(t *testing.T) {
	full := make([]cart.Abandoned, sweepBatch)
	for i := range full {
		full[i] = cart.Abandoned{CartID: "c", UserID: "u", Email: "u@example.com", ItemCount: 1}
	}
	claims := &stubAbandoned{batches: [][]cart.Abandoned{
		full,
		{{CartID: "last", UserID: "user-9", Email: "meera@example.com", FullName: "Meera", ItemCount: 3}},
	}}
	notifier := &recordingNotifier{}

	s := NewSweeper(claims, notifier, 6*time.Hour, time.Minute, discardLogger())
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sweepBatch+1, n)
	require.Len(t, notifier.events, sweepBatch+1)
	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, domain.EventCartAbandoned, last.Type)
	assert.Equal(t, "meera@example.com", last.CustomerEmail)
	assert.Equal(t, 3, last.ItemCount)
	assert.Equal(t, []time.Time{now.Add(-6 * time.Hour), now.Add(-6 * time.Hour)}, claims.before)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	notifier := &recordingNotifier{}
	claims := &stubAbandoned{batches: [][]cart.Abandoned{{{CartID: "c1", Email: "a@example.com"}}}}

	done := make(chan error, 1)
	go func() {
		done <- NewSweeper(claims, notifier, time.Hour, time.Hour, discardLogger()).Run(ctx)
	}()

	require.Eventually(t, func() bool {
		claims.mu.Lock()
		defer claims.mu.Unlock()
		return len(claims.before) > 0
	}, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
