package review

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusWaiting     = "waiting"
	StatusApproved    = "approved"
	StatusNotApproved = "not_approved"
)

const (
	MinRating      = 1
	MaxRating      = 5
	MaxWaitingTime = 3

	AnonymousName = "Anonymous user"
)

var waitingTimeLabels = [...]string{
	"0 to 15 minutes",
	"15 to 45 minutes",
	"45 to 90 minutes",
	"More than 90 minutes",
}

// WaitingTimeLabel renders a waiting time bucket, or "" when out of range.
func WaitingTimeLabel(v int) string {
	if v < 0 || v >= len(waitingTimeLabels) {
		return ""
	}
	return waitingTimeLabels[v]
}

type Comment struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID    uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Rating      int       `db:"rating" json:"rating"`
	IsSuggest   bool      `db:"is_suggest" json:"is_suggest"`
	WaitingTime int       `db:"waiting_time" json:"waiting_time"`
	Body        string    `db:"body" json:"body"`
	IsAnonymous bool      `db:"is_anonymous" json:"is_anonymous"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`

	// Joined from patients and doctors for display.
	PatientFirstName string `db:"patient_first_name" json:"-"`
	PatientLastName  string `db:"patient_last_name" json:"-"`
	DoctorName       string `db:"doctor_name" json:"-"`
}

// DisplayName is what the public sees as the author.
func (c *Comment) DisplayName() string {
	if c.IsAnonymous {
		return AnonymousName
	}
	return c.PatientFirstName
}

// PublicView is a comment as listed on a doctor's page.
type PublicView struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	CreatedDatetime string    `json:"created_datetime"`
	Rating          int       `json:"rating"`
	IsSuggest       bool      `json:"is_suggest"`
	WaitingTime     string    `json:"waiting_time"`
	Body            string    `json:"body"`
}

// ModerationView is a comment as shown to moderators.
type ModerationView struct {
	Comment
	PatientName string `json:"patient_name"`
	DoctorName  string `json:"doctor_name"`
	WaitingTime string `json:"waiting_time_display"`
}

const datetimeLayout = "2006-01-02 15:04:05"

func (c *Comment) Public(loc *time.Location) PublicView {
	return PublicView{
		ID:              c.ID,
		Name:            c.DisplayName(),
		CreatedDatetime: c.CreatedAt.In(loc).Format(datetimeLayout),
		Rating:          c.Rating,
		IsSuggest:       c.IsSuggest,
		WaitingTime:     WaitingTimeLabel(c.WaitingTime),
		Body:            c.Body,
	}
}

func (c *Comment) Moderation() ModerationView {
	return ModerationView{
		Comment:     *c,
		PatientName: c.PatientFirstName + " " + c.PatientLastName,
		DoctorName:  c.DoctorName,
		WaitingTime: WaitingTimeLabel(c.WaitingTime),
	}
}
