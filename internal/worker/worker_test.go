package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"clinica/internal/database"
	"clinica/internal/events"
	"clinica/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	appt := createAppointment(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, appt.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if got := sheets.upserted(); len(got) != 1 || got[0].ID != appt.ID {
		t.Fatalf("expected one upsert of %s, got %+v", appt.ID, got)
	}
}

func TestProcessTaskUsesCurrentState(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	appt := createAppointment(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, appt.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := db.UpdateAppointmentStatus(ctx, appt.ID, models.StatusConfirmed); err != nil {
		t.Fatalf("update: %v", err)
	}

	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	got := sheets.upserted()
	if len(got) != 1 || got[0].Status != models.StatusConfirmed {
		t.Fatalf("expected confirmed row, got %+v", got)
	}

	// Once the appointment is gone, an upsert turns into a delete.
	if err := db.DeleteAppointment(ctx, appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := worker.EnqueueTask(ctx, TaskUpsert, appt.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ = worker.tryLocalQueue()
	worker.processTask(ctx, &task)
	if deleted := sheets.deleted(); len(deleted) != 1 || deleted[0] != appt.ID {
		t.Fatalf("expected delete of %s, got %v", appt.ID, deleted)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("boom")}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)
	ctx := context.Background()

	appt := createAppointment(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, appt.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	pending, err := db.GetPendingSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("task must wait for its retry time, got %d pending", len(pending))
	}
}

func TestProcessTaskFailPushesDeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("fatal")}
	worker := NewSheetsWorker(db, sheets, client, RetryPolicy{MaxRetries: 1}, nil)
	ctx := context.Background()

	appt := createAppointment(t, db)
	if err := worker.EnqueueTask(ctx, TaskUpsert, appt.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("task should have gone to redis")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	n, err := client.LLen(ctx, worker.deadLetterKey).Result()
	if err != nil || n != 1 {
		t.Fatalf("expected one dead letter, got %d (%v)", n, err)
	}
}

func TestEnqueueTaskValidation(t *testing.T) {
	db := newTestDB(t)
	worker := NewSheetsWorker(db, &fakeSheets{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	t.Run("InvalidTaskType", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, "update_status", "a1"); err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})

	t.Run("MissingAppointmentID", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, TaskDelete, ""); err == nil {
			t.Fatalf("expected error for missing appointment id")
		}
	})
}

func TestDecodePayload(t *testing.T) {
	worker := NewSheetsWorker(nil, nil, nil, RetryPolicy{}, nil)

	decoded, err := worker.decodePayload(`{"appointment_id":"a-1"}`)
	if err != nil || decoded.AppointmentID != "a-1" {
		t.Fatalf("unexpected decode result: %+v, %v", decoded, err)
	}
	if _, err := worker.decodePayload(`invalid json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

func TestWorkerFollowsBus(t *testing.T) {
	db := newTestDB(t)
	bus := events.NewEventBus()
	db.SetPublisher(bus)

	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, RetryPolicy{}, nil)
	unsubscribe := worker.Subscribe(bus)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	appt := createAppointment(t, db)
	waitFor(t, func() bool { return len(sheets.upserted()) == 1 })

	if err := db.DeleteAppointment(context.Background(), appt.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, func() bool { return len(sheets.deleted()) == 1 })
}

func TestRemoteEventsAreIgnored(t *testing.T) {
	worker := NewSheetsWorker(nil, &fakeSheets{}, nil, RetryPolicy{}, nil)
	event, err := events.NewJSONEvent(events.EventAppointmentCreated, models.AppointmentChange{ID: "a1", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	event.Origin = "other-instance"

	if err := worker.onChange(&event); err != nil {
		t.Fatalf("onChange: %v", err)
	}
	if len(worker.changes) != 0 {
		t.Fatalf("remote events must not be mirrored twice")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2}.withDefaults()
	if policy.MaxRetries != 2 || policy.InitialDelay != 2*time.Second || policy.BackoffFactor != 2 {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Exhausted(1) || !policy.Exhausted(2) {
		t.Fatalf("attempt 2 of 2 should be the last")
	}
}

// Helpers

type fakeSheets struct {
	mu      sync.Mutex
	err     error
	upserts []*models.Appointment
	deletes []string
}

func (f *fakeSheets) UpsertAppointment(_ context.Context, appt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, appt)
	return f.err
}

func (f *fakeSheets) DeleteAppointment(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, id)
	return f.err
}

func (f *fakeSheets) upserted() []*models.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Appointment(nil), f.upserts...)
}

func (f *fakeSheets) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createAppointment(t *testing.T, db *database.DB) *models.Appointment {
	t.Helper()
	appt := &models.Appointment{
		OwnerID:     "u1",
		OwnerEmail:  "ana@example.com",
		ServiceName: "Consulta",
		Date:        "2024-06-03",
		Time:        "10:00",
	}
	if err := db.CreateAppointment(context.Background(), appt); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return appt
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
