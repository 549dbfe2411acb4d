package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/live"
)

// Availability events, published on the doctor's topic.
const (
	EventCreated  = "reserve.created"
	EventClaimed  = "reserve.claimed"
	EventReleased = "reserve.released"
	EventPaid     = "reserve.paid"
	EventDeleted  = "reserve.deleted"
)

// TopicPrefix prefixes every doctor availability topic.
const TopicPrefix = "doctor:"

func DoctorTopic(doctorID uuid.UUID) string { return TopicPrefix + doctorID.String() }

// Availability is the event payload. It never names the patient.
type Availability struct {
	ReserveID       uuid.UUID `json:"reserve_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	ReserveDatetime time.Time `json:"reserve_datetime"`
	Price           int64     `json:"price"`
	IsFree          bool      `json:"is_free"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, live.Event) error { return nil }

// WithPublisher sends availability changes to p.
func WithPublisher(p live.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// announce publishes an availability change. Delivery is best effort.
func (s *Service) announce(ctx context.Context, eventType string, r *Reserve, free bool) {
	ev, err := live.NewEvent(DoctorTopic(r.DoctorID), eventType, Availability{
		ReserveID:       r.ID,
		DoctorID:        r.DoctorID,
		ReserveDatetime: r.ReserveDatetime.In(s.loc),
		Price:           r.Price,
		IsFree:          free,
	}, s.now())
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("reserve_id", r.ID.String()).Msg("publish availability")
	}
}
