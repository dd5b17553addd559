package refund

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownStatus = errors.New("unknown order status")
	ErrNotEligible   = errors.New("order is not eligible for a refund")
)

// Policy is the refund window class of an order.
type Policy string

const (
	PolicyFast     Policy = "fast"
	PolicyStandard Policy = "standard"
	PolicyExtended Policy = "extended"
)

// urgentThreshold is how close to expiry a fast window starts counting as
// urgent.
const urgentThreshold = 5 * time.Minute

type policySpec struct {
	duration time.Duration
	label    string
}

var policies = map[Policy]policySpec{
	PolicyFast:     {10 * time.Minute, "Quick Refund (10 min)"},
	PolicyStandard: {7 * 24 * time.Hour, "Standard Return (7 days)"},
	PolicyExtended: {30 * 24 * time.Hour, "Extended Return (30 days)"},
}

// PolicyFor maps a product category onto its refund policy.
func PolicyFor(category string) Policy {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "fresh":
		return PolicyFast
	case "electronics":
		return PolicyStandard
	default:
		return PolicyExtended
	}
}

func (p Policy) Duration() time.Duration {
	return policies[p].duration
}

func (p Policy) Label() string {
	if s, ok := policies[p]; ok {
		return s.label
	}
	return policies[PolicyExtended].label
}

// Window is fixed when the order is placed and never changes.
type Window struct {
	Policy    Policy        `json:"type"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Duration  time.Duration `json:"duration"`
}

func NewWindow(category string, orderedAt time.Time) Window {
	p := PolicyFor(category)
	return Window{
		Policy:    p,
		ExpiresAt: orderedAt.Add(p.Duration()),
		Duration:  p.Duration(),
	}
}

// Remaining is the time left before the window closes. Zero or negative
// means it has closed.
func (w Window) Remaining(now time.Time) time.Duration {
	return w.ExpiresAt.Sub(now)
}

func (w Window) Expired(now time.Time) bool {
	return w.Remaining(now) <= 0
}

// Urgent reports a fast window with under five minutes left.
func (w Window) Urgent(now time.Time) bool {
	r := w.Remaining(now)
	return w.Policy == PolicyFast && r > 0 && r < urgentThreshold
}

type OrderStatus string

const (
	StatusProcessing      OrderStatus = "processing"
	StatusConfirmed       OrderStatus = "confirmed"
	StatusShipped         OrderStatus = "shipped"
	StatusDelivered       OrderStatus = "delivered"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRefundRequested OrderStatus = "refund_requested"
	StatusRefunded        OrderStatus = "refunded"
)

func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusProcessing, StatusConfirmed, StatusShipped, StatusDelivered,
		StatusCancelled, StatusRefundRequested, StatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Closed reports statuses that can never be refunded again.
func (s OrderStatus) Closed() bool {
	switch s {
	case StatusCancelled, StatusRefundRequested, StatusRefunded:
		return true
	}
	return false
}

// Order is the slice of an order the refund clock needs.
type Order struct {
	ID        string
	Status    OrderStatus
	Total     decimal.Decimal
	CreatedAt time.Time
	Window    Window
}

func NewOrder(id, category string, status OrderStatus, total decimal.Decimal, createdAt time.Time) Order {
	return Order{
		ID:        id,
		Status:    status,
		Total:     total,
		CreatedAt: createdAt,
		Window:    NewWindow(category, createdAt),
	}
}

func (o Order) IsEligible(now time.Time) bool {
	return !o.Window.Expired(now) && !o.Status.Closed()
}

// FormatRemaining renders d for a countdown label, for example "2d 3h left".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "Expired"
	}

	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh left", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm left", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds left", minutes, seconds%60)
	default:
		return fmt.Sprintf("%ds left", seconds)
	}
}

// View is the countdown state rendered on each display tick.
type View struct {
	Policy      Policy    `json:"type"`
	Label       string    `json:"label"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RemainingMS int64     `json:"remainingMs"`
	Remaining   string    `json:"remaining"`
	Urgent      bool      `json:"urgent"`
	Eligible    bool      `json:"eligible"`
}

func (o Order) View(now time.Time) View {
	r := o.Window.Remaining(now)
	ms := r.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return View{
		Policy:      o.Window.Policy,
		Label:       o.Window.Policy.Label(),
		ExpiresAt:   o.Window.ExpiresAt,
		RemainingMS: ms,
		Remaining:   FormatRemaining(r),
		Urgent:      o.Window.Urgent(now),
		Eligible:    o.IsEligible(now),
	}
}
