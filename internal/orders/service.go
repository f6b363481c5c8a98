package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/database"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/tools"
)

// Reply texts.
const (
	FailedText        = "Gagal membuat pesanan. Coba lagi."
	NotFoundText      = "Nomor Order tidak ditemukan."
	MissingNameText   = "Nama pelanggan belum diketahui. Tanyakan nama pelanggan dulu sebelum membuat pesanan."
	DefaultPayment    = "Silakan transfer ke BCA 123456."
	maxCreateAttempts = 3
)

// NumberPattern matches generated order numbers.
var NumberPattern = regexp.MustCompile(`^ORDER-\d{12}(-[0-9A-F]{4})?$`)

// Repository is the persistence the service needs.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, number string) (*Order, error)
	List(ctx context.Context, limit int) ([]*Order, error)
	UpdateStatus(ctx context.Context, number, status string, at time.Time) error
}

// Service creates orders and answers status questions.
type Service struct {
	repo    Repository
	bus     *events.Bus
	logger  *slog.Logger
	payment string

	now    func() time.Time
	suffix func() string
}

// NewService creates an order service. paymentInstruction is appended
// to every confirmation; bus may be nil.
func NewService(repo Repository, paymentInstruction string, bus *events.Bus, logger *slog.Logger) *Service {
	if paymentInstruction == "" {
		paymentInstruction = DefaultPayment
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		bus:     bus,
		logger:  logger,
		payment: paymentInstruction,
		now:     time.Now,
		suffix:  randomSuffix,
	}
}

// Create records a new order awaiting payment and returns the
// confirmation text. Persistence failures are logged and reported as
// FailedText; they are not returned as errors.
func (s *Service) Create(ctx context.Context, customerName, item, detail string, total int64) (string, error) {
	customerName = strings.TrimSpace(customerName)
	if customerName == "" {
		return MissingNameText, nil
	}
	if total < 0 {
		total = 0
	}

	now := s.now()
	o := &Order{
		CustomerName: customerName,
		DetailItems:  detailItems(item, detail),
		Status:       StatusAwaitingPayment,
		Total:        total,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if id := tools.ConversationIDFromContext(ctx); id != "default" {
		o.ConversationID = id
	}

	base := "ORDER-" + now.Format("060102150405")
	var err error
	for attempt := range maxCreateAttempts {
		o.Number = base
		if attempt > 0 {
			o.Number = base + "-" + s.suffix()
		}
		err = s.repo.Insert(ctx, o)
		if err == nil || !database.IsUniqueViolation(err) {
			break
		}
		s.logger.Debug("order number collision", "order_number", o.Number, "attempt", attempt+1)
	}
	if err != nil {
		s.logger.Error("create order failed", "customer", customerName, "error", err)
		return FailedText, nil
	}

	s.logger.Info("order created", "order_number", o.Number, "customer", customerName, "total", total)
	s.bus.Emit(events.SourceOrders, events.KindOrderCreated, map[string]any{
		"order_number":    o.Number,
		"customer_name":   o.CustomerName,
		"detail_items":    o.DetailItems,
		"total":           o.Total,
		"status":          o.Status,
		"conversation_id": o.ConversationID,
	})

	return fmt.Sprintf("✅ Sukses! Order ID: %s. Atas nama %s. %s", o.Number, customerName, s.payment), nil
}

// CheckStatus looks up an order by exact number and describes it.
func (s *Service) CheckStatus(ctx context.Context, number string) (string, error) {
	number = NormalizeNumber(number)
	o, err := s.repo.Get(ctx, number)
	if errors.Is(err, ErrNotFound) {
		return NotFoundText, nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Status %s: %s. Total: Rp%s. Atas nama %s.",
		o.Number, o.Status, catalog.FormatRupiah(o.Total), o.CustomerName), nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, number string) (*Order, error) {
	return s.repo.Get(ctx, NormalizeNumber(number))
}

// List returns the newest orders first.
func (s *Service) List(ctx context.Context, limit int) ([]*Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, limit)
}

// UpdateStatus changes an order's status, for shop staff.
func (s *Service) UpdateStatus(ctx context.Context, number, status string) error {
	number = NormalizeNumber(number)
	status = strings.TrimSpace(status)
	if status == "" {
		return fmt.Errorf("status is required")
	}
	if err := s.repo.UpdateStatus(ctx, number, status, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("order status changed", "order_number", number, "status", status)
	s.bus.Emit(events.SourceOrders, events.KindOrderStatusChanged, map[string]any{
		"order_number": number,
		"status":       status,
	})
	return nil
}

// NormalizeNumber trims and upper-cases an order number as typed by a
// customer.
func NormalizeNumber(number string) string {
	return strings.ToUpper(strings.TrimSpace(number))
}

func detailItems(item, detail string) string {
	item, detail = strings.TrimSpace(item), strings.TrimSpace(detail)
	if detail == "" {
		return item
	}
	return item + " (" + detail + ")"
}

func randomSuffix() string {
	id := uuid.New()
	return fmt.Sprintf("%02X%02X", id[0], id[1])
}
