package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clinica/internal/database"
	"clinica/internal/events"
	"clinica/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type collector struct {
	mu         sync.Mutex
	last       []*models.Appointment
	deliveries int
}

func (c *collector) handle(snapshot []*models.Appointment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = snapshot
	c.deliveries++
}

func (c *collector) snapshot() []*models.Appointment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deliveries
}

func (c *collector) waitFor(t *testing.T, cond func([]*models.Appointment) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.deliveries > 0 && cond(c.last)
	}, waitFor, 5*time.Millisecond)
}

func find(list []*models.Appointment, id string) *models.Appointment {
	for _, a := range list {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func setup(t *testing.T) (*database.DB, *Hub) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewEventBus()
	db.SetPublisher(bus)
	hub := NewHub(db, bus, &logger)
	t.Cleanup(hub.Close)
	return db, hub
}

func submit(t *testing.T, db *database.DB, owner string) *models.Appointment {
	t.Helper()
	appt := &models.Appointment{
		OwnerID:     owner,
		OwnerEmail:  owner + "@example.com",
		ServiceName: "Consulta General",
		Date:        "2025-03-10",
		Time:        "09:00",
	}
	require.NoError(t, db.CreateAppointment(context.Background(), appt))
	return appt
}

func TestFeedsFollowSubmissionAndModeration(t *testing.T) {
	db, hub := setup(t)
	ctx := context.Background()

	var clientA, clientB, admin collector
	subA, err := hub.Subscribe(ctx, Filter{OwnerID: "client-a"}, clientA.handle)
	require.NoError(t, err)
	defer subA.Close()
	subB, err := hub.Subscribe(ctx, Filter{OwnerID: "client-b"}, clientB.handle)
	require.NoError(t, err)
	defer subB.Close()
	subAdmin, err := hub.Subscribe(ctx, Filter{}, admin.handle)
	require.NoError(t, err)
	defer subAdmin.Close()

	for _, c := range []*collector{&clientA, &clientB, &admin} {
		c.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 0 })
	}

	appt := submit(t, db, "client-a")

	clientA.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 1 })
	admin.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 1 })
	assert.Equal(t, models.StatusPending, clientA.snapshot()[0].Status)
	assert.Empty(t, clientB.snapshot())

	require.NoError(t, db.UpdateAppointmentStatus(ctx, appt.ID, models.StatusConfirmed))

	confirmed := func(s []*models.Appointment) bool {
		a := find(s, appt.ID)
		return len(s) == 1 && a != nil && a.Status == models.StatusConfirmed
	}
	clientA.waitFor(t, confirmed)
	admin.waitFor(t, confirmed)

	require.NoError(t, db.UpdateAppointmentStatus(ctx, appt.ID, models.StatusCancelled))
	cancelled := func(s []*models.Appointment) bool {
		a := find(s, appt.ID)
		return a != nil && a.Status == models.StatusCancelled
	}
	clientA.waitFor(t, cancelled)
	admin.waitFor(t, cancelled)

	require.NoError(t, db.DeleteAppointment(ctx, appt.ID))
	clientA.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 0 })
	admin.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 0 })
	assert.Empty(t, clientB.snapshot())
}

func TestClientFeedNeverShowsOtherOwners(t *testing.T) {
	db, hub := setup(t)
	ctx := context.Background()

	var mine collector
	sub, err := hub.Subscribe(ctx, Filter{OwnerID: "me"}, mine.handle)
	require.NoError(t, err)
	defer sub.Close()

	own := submit(t, db, "me")
	for i := 0; i < 5; i++ {
		submit(t, db, "someone-else")
	}
	second := submit(t, db, "me")

	mine.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 2 })
	snapshot := mine.snapshot()
	for _, a := range snapshot {
		assert.Equal(t, "me", a.OwnerID)
	}
	// newest first
	assert.Equal(t, second.ID, snapshot[0].ID)
	assert.Equal(t, own.ID, snapshot[1].ID)
}

type fakeSource struct {
	mu    sync.Mutex
	list  []*models.Appointment
	err   error
	calls int
}

func (f *fakeSource) ListAppointments(_ context.Context, _ string) ([]*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.list, nil
}

func (f *fakeSource) set(list []*models.Appointment, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list, f.err = list, err
}

func TestFeedDropsForeignRecordsAndSorts(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{list: []*models.Appointment{
		{ID: "old", OwnerID: "me", CreatedAt: base},
		{ID: "foreign", OwnerID: "other", CreatedAt: base.Add(time.Minute)},
		{ID: "new", OwnerID: "me", CreatedAt: base.Add(2 * time.Minute)},
	}}
	logger := zerolog.Nop()
	hub := NewHub(source, events.NewEventBus(), &logger)
	defer hub.Close()

	var c collector
	sub, err := hub.Subscribe(context.Background(), Filter{OwnerID: "me"}, c.handle)
	require.NoError(t, err)
	defer sub.Close()

	c.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 2 })
	snapshot := c.snapshot()
	assert.Equal(t, "new", snapshot[0].ID)
	assert.Equal(t, "old", snapshot[1].ID)
}

func TestRefreshErrorKeepsLastSnapshot(t *testing.T) {
	source := &fakeSource{list: []*models.Appointment{{ID: "a1", OwnerID: "u1"}}}
	bus := events.NewEventBus()
	logger := zerolog.Nop()
	hub := NewHub(source, bus, &logger)
	defer hub.Close()

	var c collector
	errs := make(chan error, 4)
	sub, err := hub.Subscribe(context.Background(), Filter{}, c.handle,
		WithErrorHandler(func(err error) { errs <- err }))
	require.NoError(t, err)
	defer sub.Close()

	c.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 1 })

	source.set(nil, errors.New("permission revoked"))
	require.NoError(t, bus.PublishJSON(events.EventAppointmentCreated, models.AppointmentChange{ID: "a2", OwnerID: "u1"}))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "permission revoked")
	case <-time.After(waitFor):
		t.Fatal("error handler was not called")
	}
	assert.Equal(t, 1, c.count())
	require.Len(t, sub.Snapshot(), 1)
	assert.Equal(t, "a1", sub.Snapshot()[0].ID)

	// the feed stays alive and recovers on the next change
	source.set([]*models.Appointment{{ID: "a1", OwnerID: "u1"}, {ID: "a2", OwnerID: "u1"}}, nil)
	require.NoError(t, bus.PublishJSON(events.EventAppointmentCreated, models.AppointmentChange{ID: "a2", OwnerID: "u1"}))
	c.waitFor(t, func(s []*models.Appointment) bool { return len(s) == 2 })
}

func TestNonMatchingChangeDoesNotRefresh(t *testing.T) {
	source := &fakeSource{}
	bus := events.NewEventBus()
	logger := zerolog.Nop()
	hub := NewHub(source, bus, &logger)
	defer hub.Close()

	var c collector
	sub, err := hub.Subscribe(context.Background(), Filter{OwnerID: "me"}, c.handle)
	require.NoError(t, err)
	defer sub.Close()
	c.waitFor(t, func(s []*models.Appointment) bool { return true })

	require.NoError(t, bus.PublishJSON(events.EventAppointmentCreated, models.AppointmentChange{ID: "x", OwnerID: "other"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.count())
}

func TestCloseIsIdempotent(t *testing.T) {
	_, hub := setup(t)

	var c collector
	sub, err := hub.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Active())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, hub.Active())

	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not stop")
	}
}

func TestContextCancellationCloses(t *testing.T) {
	_, hub := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	sub, err := hub.Subscribe(ctx, Filter{OwnerID: "u1"}, c.handle)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitFor):
		t.Fatal("subscription did not stop")
	}
	assert.Equal(t, 0, hub.Active())
	sub.Close()
}

func TestHubClose(t *testing.T) {
	_, hub := setup(t)

	var c collector
	sub, err := hub.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)

	hub.Close()
	hub.Close()
	<-sub.Done()

	_, err = hub.Subscribe(context.Background(), Filter{}, c.handle)
	assert.ErrorIs(t, err, ErrHubClosed)

	_, err = NewHub(&fakeSource{}, events.NewEventBus(), nil).Subscribe(context.Background(), Filter{}, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
