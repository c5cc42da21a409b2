package tool

import (
	"context"
	"errors"
	"time"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

var (
	ErrSpaceNotFound       = errors.New("space not found")
	ErrSpaceUnavailable    = errors.New("space is not available for this period")
	ErrInvalidPeriod       = errors.New("invalid reservation period")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPaymentNotRequired  = errors.New("reservation does not require payment")
	ErrUnknownUser         = errors.New("user cannot be resolved")
)

type ReservationStatus string

const (
	ReservationConfirmed      ReservationStatus = "CONFIRMED"
	ReservationPendingPayment ReservationStatus = "PENDING_PAYMENT"
	ReservationCanceled       ReservationStatus = "CANCELED"
)

type Space struct {
	ID          string  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Type        string  `yaml:"type" json:"type"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Capacity    int     `yaml:"capacity" json:"capacity,omitempty"`
	Price       float64 `yaml:"price" json:"price"`
	Currency    string  `yaml:"currency" json:"currency,omitempty"`
}

func (s Space) RequiresPayment() bool {
	return s.Price > 0
}

type User struct {
	SenderID        string `yaml:"sender_id" json:"sender_id"`
	ID              string `yaml:"id" json:"id"`
	DisplayName     string `yaml:"display_name" json:"display_name"`
	PreferredLocale string `yaml:"locale" json:"locale,omitempty"`
}

type Availability struct {
	SpaceID   string `json:"spaceId"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type ReservationInput struct {
	SpaceID   string
	StartDate string
	EndDate   string
	StartTime string
	EndTime   string
}

type Reservation struct {
	ID         string            `json:"reservationId"`
	SpaceID    string            `json:"spaceId"`
	UserID     string            `json:"userId"`
	StartDate  string            `json:"startDate"`
	EndDate    string            `json:"endDate"`
	StartTime  string            `json:"startTime,omitempty"`
	EndTime    string            `json:"endTime,omitempty"`
	Status     ReservationStatus `json:"status"`
	TotalPrice float64           `json:"totalPrice"`
	Currency   string            `json:"currency,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type PaymentLink struct {
	ReservationID string    `json:"reservationId"`
	URL           string    `json:"paymentUrl"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// DomainService is the portal backend the domain actions are served by.
type DomainService interface {
	ResolveUser(ctx context.Context, auth contractx.AuthContext) (User, error)
	ListSpaces(ctx context.Context, spaceType string) ([]Space, error)
	GetSpace(ctx context.Context, spaceID string) (Space, error)
	CheckAvailability(ctx context.Context, spaceID, startDate, endDate string) (Availability, error)
	CreateReservation(ctx context.Context, user User, in ReservationInput) (Reservation, error)
	GeneratePaymentLink(ctx context.Context, user User, reservationID string) (PaymentLink, error)
}
