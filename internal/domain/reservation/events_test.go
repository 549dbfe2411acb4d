package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/jobs"
	"github.com/medbook/medbook/internal/platform/live"
)

// feedFixture wires the service to a real hub with one subscriber following
// the fixture doctor.
func feedFixture(t *testing.T) (*fixture, *live.Subscriber) {
	t.Helper()
	f := newFixture()
	hub := live.NewHub(live.WithTopicPrefixes(TopicPrefix))
	f.svc = NewService(f.repo, noTx{}, stubDoctors{f.doctorID: true}, f.scheduler, WithPublisher(hub))
	f.svc.now = func() time.Time { return testNow }

	sub := live.NewSubscriber("test", 16)
	hub.Register(sub)
	if got := hub.Subscribe(sub, []string{DoctorTopic(f.doctorID)}); len(got) != 1 {
		t.Fatalf("subscribe: %v", got)
	}
	return f, sub
}

func nextEvent(t *testing.T, sub *live.Subscriber) (live.Event, Availability) {
	t.Helper()
	select {
	case frame := <-sub.Send:
		var ev live.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		var a Availability
		if err := json.Unmarshal(ev.Data, &a); err != nil {
			t.Fatalf("decode availability: %v", err)
		}
		return ev, a
	default:
		t.Fatal("expected an event")
	}
	return live.Event{}, Availability{}
}

func expectQuiet(t *testing.T, sub *live.Subscriber) {
	t.Helper()
	select {
	case frame := <-sub.Send:
		t.Fatalf("unexpected event %s", frame)
	default:
	}
}

func TestEvents_Lifecycle(t *testing.T) {
	f, sub := feedFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	r, err := f.svc.CreateSlot(ctx, f.doctorID, SlotRequest{ReserveDatetime: "2025-03-01 12:00", Price: 90000}, true)
	if err != nil {
		t.Fatalf("CreateSlot: %v", err)
	}
	ev, a := nextEvent(t, sub)
	if ev.Type != EventCreated || ev.Topic != DoctorTopic(f.doctorID) || !a.IsFree || a.ReserveID != r.ID {
		t.Fatalf("unexpected created event %+v %+v", ev, a)
	}

	if _, err := f.svc.ClaimSlot(ctx, r.ID, patient); err != nil {
		t.Fatalf("ClaimSlot: %v", err)
	}
	ev, a = nextEvent(t, sub)
	if ev.Type != EventClaimed || a.IsFree {
		t.Fatalf("unexpected claim event %+v %+v", ev, a)
	}

	// Claiming again is a no-op and stays silent.
	if _, err := f.svc.ClaimSlot(ctx, r.ID, patient); err != nil {
		t.Fatalf("ClaimSlot again: %v", err)
	}
	expectQuiet(t, sub)

	if err := f.svc.CancelClaim(ctx, r.ID, patient); err != nil {
		t.Fatalf("CancelClaim: %v", err)
	}
	ev, a = nextEvent(t, sub)
	if ev.Type != EventReleased || !a.IsFree {
		t.Fatalf("unexpected release event %+v %+v", ev, a)
	}

	if err := f.svc.DeleteFreeReserve(ctx, f.doctorID, r.ID); err != nil {
		t.Fatalf("DeleteFreeReserve: %v", err)
	}
	if ev, _ = nextEvent(t, sub); ev.Type != EventDeleted {
		t.Fatalf("expected %s, got %s", EventDeleted, ev.Type)
	}
}

func TestEvents_Settle(t *testing.T) {
	f, sub := feedFixture(t)
	ctx := context.Background()
	patient := uuid.New()
	r := f.seed(t, testNow.Add(time.Hour), &patient, StatusUnpaid)

	settled, err := f.svc.Settle(ctx, r.ID, "ref-1")
	if err != nil || !settled {
		t.Fatalf("Settle: %v %v", settled, err)
	}
	if ev, _ := nextEvent(t, sub); ev.Type != EventPaid {
		t.Fatalf("expected %s, got %s", EventPaid, ev.Type)
	}

	settled, err = f.svc.Settle(ctx, r.ID, "ref-2")
	if err != nil || settled {
		t.Fatalf("second Settle: %v %v", settled, err)
	}
	expectQuiet(t, sub)
}

func TestEvents_ReleaseJob(t *testing.T) {
	f, sub := feedFixture(t)
	patient := uuid.New()
	r := f.seed(t, testNow.Add(-time.Minute), &patient, StatusUnpaid)

	job, err := jobs.NewJob(ReleaseJobName, ReleaseArgs{ReserveID: r.ID}, testNow)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if err := f.svc.HandleRelease(context.Background(), job); err != nil {
		t.Fatalf("HandleRelease: %v", err)
	}
	if ev, _ := nextEvent(t, sub); ev.Type != EventReleased {
		t.Fatalf("expected %s, got %s", EventReleased, ev.Type)
	}
}
