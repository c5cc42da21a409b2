package tool

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	contractx "github.com/neohoods/portal-assistant/agent/contract"
)

//go:embed spaces.yaml
var defaultSeedRaw []byte

const (
	dateLayout = time.DateOnly
	timeLayout = "15:04"
)

// Seed is the content of a portal seed file.
type Seed struct {
	Spaces []Space `yaml:"spaces"`
	Users  []User  `yaml:"users"`
}

func LoadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode portal seed: %w", err)
	}
	seen := make(map[string]struct{}, len(seed.Spaces))
	for i, s := range seed.Spaces {
		if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.Name) == "" {
			return Seed{}, fmt.Errorf("space #%d: id and name are required", i)
		}
		if _, dup := seen[s.ID]; dup {
			return Seed{}, fmt.Errorf("space %s is declared twice", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return seed, nil
}

// DefaultSeed returns the embedded demo seed.
func DefaultSeed() Seed {
	seed, err := LoadSeed(bytes.NewReader(defaultSeedRaw))
	if err != nil {
		panic(err)
	}
	return seed
}

type PortalConfig struct {
	PaymentBaseURL string        `split_words:"true" default:"https://pay.neohoods.example/checkout"`
	PaymentTTL     time.Duration `split_words:"true" default:"30m"`
}

// MemoryPortal is an in-process DomainService used by the CLI and tests.
type MemoryPortal struct {
	mu           sync.Mutex
	spaces       map[string]Space
	order        []string
	users        map[string]User
	reservations map[string]Reservation
	cfg          PortalConfig
	now          func() time.Time
}

var _ DomainService = (*MemoryPortal)(nil)

func NewMemoryPortal(seed Seed, cfg PortalConfig) *MemoryPortal {
	p := &MemoryPortal{
		spaces:       make(map[string]Space, len(seed.Spaces)),
		users:        make(map[string]User, len(seed.Users)),
		reservations: make(map[string]Reservation),
		cfg:          cfg,
		now:          time.Now,
	}
	for _, s := range seed.Spaces {
		p.spaces[s.ID] = s
		p.order = append(p.order, s.ID)
	}
	for _, u := range seed.Users {
		p.users[u.SenderID] = u
	}
	if p.cfg.PaymentTTL <= 0 {
		p.cfg.PaymentTTL = 30 * time.Minute
	}
	return p
}

func (p *MemoryPortal) ResolveUser(_ context.Context, auth contractx.AuthContext) (User, error) {
	if u, ok := p.users[auth.SenderID]; ok {
		return u, nil
	}
	if strings.TrimSpace(auth.UserID) != "" {
		return User{SenderID: auth.SenderID, ID: auth.UserID, DisplayName: auth.DisplayName, PreferredLocale: auth.PreferredLocale}, nil
	}
	return User{}, fmt.Errorf("%w: sender=%s", ErrUnknownUser, auth.SenderID)
}

func (p *MemoryPortal) ListSpaces(_ context.Context, spaceType string) ([]Space, error) {
	spaceType = strings.ToUpper(strings.TrimSpace(spaceType))
	out := make([]Space, 0, len(p.order))
	for _, id := range p.order {
		s := p.spaces[id]
		if spaceType == "" || s.Type == spaceType {
			out = append(out, s)
		}
	}
	return out, nil
}

func (p *MemoryPortal) GetSpace(_ context.Context, spaceID string) (Space, error) {
	s, ok := p.spaces[spaceID]
	if !ok {
		return Space{}, fmt.Errorf("%w: id=%s", ErrSpaceNotFound, spaceID)
	}
	return s, nil
}

func (p *MemoryPortal) CheckAvailability(_ context.Context, spaceID, startDate, endDate string) (Availability, error) {
	if _, ok := p.spaces[spaceID]; !ok {
		return Availability{}, fmt.Errorf("%w: id=%s", ErrSpaceNotFound, spaceID)
	}
	start, end, err := ParsePeriod(startDate, endDate)
	if err != nil {
		return Availability{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	av := Availability{SpaceID: spaceID, StartDate: startDate, EndDate: endDate, Available: true}
	if conflict, ok := p.conflictLocked(spaceID, start, end); ok {
		av.Available = false
		av.Reason = fmt.Sprintf("already booked from %s to %s", conflict.StartDate, conflict.EndDate)
	}
	return av, nil
}

func (p *MemoryPortal) CreateReservation(_ context.Context, user User, in ReservationInput) (Reservation, error) {
	space, ok := p.spaces[in.SpaceID]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: id=%s", ErrSpaceNotFound, in.SpaceID)
	}
	start, end, err := ParsePeriod(in.StartDate, in.EndDate)
	if err != nil {
		return Reservation{}, err
	}
	for _, t := range []string{in.StartTime, in.EndTime} {
		if t == "" {
			continue
		}
		if _, err := time.Parse(timeLayout, t); err != nil {
			return Reservation{}, fmt.Errorf("%w: time=%q is not HH:MM", ErrInvalidPeriod, t)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.conflictLocked(in.SpaceID, start, end); ok {
		return Reservation{}, fmt.Errorf("%w: space=%s from=%s to=%s", ErrSpaceUnavailable, in.SpaceID, in.StartDate, in.EndDate)
	}

	r := Reservation{
		ID:         uuid.NewString(),
		SpaceID:    in.SpaceID,
		UserID:     user.ID,
		StartDate:  in.StartDate,
		EndDate:    in.EndDate,
		StartTime:  in.StartTime,
		EndTime:    in.EndTime,
		Status:     ReservationConfirmed,
		TotalPrice: space.Price * float64(Nights(start, end)),
		Currency:   space.Currency,
		CreatedAt:  p.now().UTC(),
	}
	if space.RequiresPayment() {
		r.Status = ReservationPendingPayment
	}
	p.reservations[r.ID] = r
	return r, nil
}

func (p *MemoryPortal) GeneratePaymentLink(_ context.Context, user User, reservationID string) (PaymentLink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[reservationID]
	if !ok || (user.ID != "" && r.UserID != user.ID) {
		return PaymentLink{}, fmt.Errorf("%w: id=%s", ErrReservationNotFound, reservationID)
	}
	if r.Status != ReservationPendingPayment {
		return PaymentLink{}, fmt.Errorf("%w: id=%s status=%s", ErrPaymentNotRequired, reservationID, r.Status)
	}
	return PaymentLink{
		ReservationID: r.ID,
		URL:           strings.TrimRight(p.cfg.PaymentBaseURL, "/") + "/" + r.ID,
		ExpiresAt:     p.now().Add(p.cfg.PaymentTTL).UTC(),
	}, nil
}

// MarkPaid records a confirmed payment for reservationID.
func (p *MemoryPortal) MarkPaid(_ context.Context, reservationID string) (Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, ok := p.reservations[reservationID]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: id=%s", ErrReservationNotFound, reservationID)
	}
	r.Status = ReservationConfirmed
	p.reservations[reservationID] = r
	return r, nil
}

// Reservations returns every stored reservation sorted by creation time.
func (p *MemoryPortal) Reservations() []Reservation {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Reservation, 0, len(p.reservations))
	for _, r := range p.reservations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (p *MemoryPortal) conflictLocked(spaceID string, start, end time.Time) (Reservation, bool) {
	for _, r := range p.reservations {
		if r.SpaceID != spaceID || r.Status == ReservationCanceled {
			continue
		}
		rs, re, err := ParsePeriod(r.StartDate, r.EndDate)
		if err != nil {
			continue
		}
		if overlaps(start, end, rs, re) {
			return r, true
		}
	}
	return Reservation{}, false
}

// Nights counts billable nights of a period. A same-day period counts as one.
func Nights(start, end time.Time) int {
	n := int(end.Sub(start).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}

// ParsePeriod parses an ISO date range. endDate may equal startDate.
func ParsePeriod(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: startDate=%q is not YYYY-MM-DD", ErrInvalidPeriod, startDate)
	}
	end, err := time.Parse(dateLayout, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate=%q is not YYYY-MM-DD", ErrInvalidPeriod, endDate)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: endDate is before startDate", ErrInvalidPeriod)
	}
	return start, end, nil
}

// overlaps treats each period as [start, end) and a same-day period as the
// whole day.
func overlaps(s1, e1, s2, e2 time.Time) bool {
	if !e1.After(s1) {
		e1 = s1.AddDate(0, 0, 1)
	}
	if !e2.After(s2) {
		e2 = s2.AddDate(0, 0, 1)
	}
	return s1.Before(e2) && s2.Before(e1)
}
