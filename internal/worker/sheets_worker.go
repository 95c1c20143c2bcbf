package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/events"
	"clinica/internal/logging"
	"clinica/internal/metrics"
	"clinica/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert = "upsert"
	TaskDelete = "delete"
)

// sheetTaskPayload is persisted in SyncTask.Payload as JSON.
type sheetTaskPayload struct {
	AppointmentID string `json:"appointment_id"`
}

// Store is what the worker needs from the database: the sync queue and a
// way to read the current state of an appointment.
type Store interface {
	domain.SyncQueue
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

// Bus announces committed appointment changes.
type Bus interface {
	Subscribe(handler events.EventHandler, eventTypes ...string) func()
}

// SheetsWorker mirrors appointment changes into Google Sheets through the
// sync_queue table. Sheets failures never reach the workflow that caused
// the change; they are retried with backoff and finally dead-lettered.
type SheetsWorker struct {
	store         Store
	sheets        domain.SheetsWriter
	redis         *redis.Client
	retryPolicy   RetryPolicy
	changes       chan models.AppointmentChange
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewSheetsWorker builds a worker. redisClient may be nil.
func NewSheetsWorker(store Store, sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	return &SheetsWorker{
		store:         store,
		sheets:        sheets,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		changes:       make(chan models.AppointmentChange, models.NotifyQueueSize),
		queue:         make(chan models.SyncTask, 128),
		redisQueueKey: "clinica:sheets:queue",
		deadLetterKey: "clinica:sheets:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logging.Component(logger, "sheets_worker"),
	}
}

// Subscribe listens for appointment changes on bus and returns the
// unsubscribe function.
func (w *SheetsWorker) Subscribe(bus Bus) func() {
	return bus.Subscribe(w.onChange, events.AppointmentEventTypes...)
}

// onChange runs on the publisher's goroutine, so it only hands off.
func (w *SheetsWorker) onChange(event *events.Event) error {
	if !event.Local() {
		return nil
	}
	change, err := events.DecodeAppointmentChange(event)
	if err != nil {
		w.logger.Warn().Err(err).Str("type", event.Type).Msg("undecodable appointment event")
		return err
	}
	if event.Type == events.EventAppointmentDeleted {
		change.Status = ""
	} else if change.Status == "" {
		change.Status = models.StatusPending
	}

	select {
	case w.changes <- change:
	default:
		w.logger.Warn().Str("appointment_id", change.ID).Msg("sheets mirror backlog full, change dropped")
	}
	return nil
}

// EnqueueTask persists a task and schedules it via redis or the in-memory queue.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType, appointmentID string) error {
	if taskType != TaskUpsert && taskType != TaskDelete {
		return fmt.Errorf("unknown task type: %q", taskType)
	}
	if appointmentID == "" {
		return errors.New("appointment id is required")
	}

	payload, err := json.Marshal(sheetTaskPayload{AppointmentID: appointmentID})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:      taskType,
		AppointmentID: appointmentID,
		Payload:       string(payload),
		Status:        database.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sheets worker started")
	defer w.logger.Info().Msg("sheets worker stopped")

	if failed, err := w.store.GetFailedSyncTasks(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("count failed sync tasks")
	} else if len(failed) > 0 {
		w.logger.Warn().Int("failed", len(failed)).Msg("sheets mirror has failed tasks that need attention")
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case change := <-w.changes:
			w.enqueueChange(ctx, change)
			continue
		case task := <-w.queue:
			w.processTask(ctx, &task)
			continue
		default:
		}

		if task, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &task)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case change := <-w.changes:
			w.enqueueChange(ctx, change)
		case task := <-w.queue:
			w.processTask(ctx, &task)
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

func (w *SheetsWorker) enqueueChange(ctx context.Context, change models.AppointmentChange) {
	taskType := TaskUpsert
	if change.Status == "" {
		taskType = TaskDelete
	}
	if err := w.EnqueueTask(ctx, taskType, change.ID); err != nil {
		w.logger.Error().Err(err).Str("appointment_id", change.ID).Msg("failed to enqueue sheets task")
	}
}

func (w *SheetsWorker) processPending(ctx context.Context) {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("fetch pending sync tasks")
		return
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleSheetTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncSyncTask(database.SyncStatusCompleted)
}

// handleSheetTask applies the appointment's current state, so a late task
// never resurrects an older version of the row.
func (w *SheetsWorker) handleSheetTask(ctx context.Context, taskType string, payload sheetTaskPayload) error {
	if payload.AppointmentID == "" {
		return errors.New("appointment id missing")
	}

	switch taskType {
	case TaskUpsert:
		appt, err := w.store.GetAppointment(ctx, payload.AppointmentID)
		if errors.Is(err, database.ErrNotFound) {
			return w.sheets.DeleteAppointment(ctx, payload.AppointmentID)
		}
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		return w.sheets.UpsertAppointment(ctx, appt)
	case TaskDelete:
		return w.sheets.DeleteAppointment(ctx, payload.AppointmentID)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *SheetsWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	metrics.IncSyncTask(database.SyncStatusRetry)
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("sheets task will be retried")
}

func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, database.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	metrics.IncSyncTask(database.SyncStatusFailed)
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("appointment_id", task.AppointmentID).Msg("sheets task failed")

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("deadletter push failed")
		}
	}
}

func (w *SheetsWorker) decodePayload(raw string) (sheetTaskPayload, error) {
	var payload sheetTaskPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *SheetsWorker) pushRedis(ctx context.Context, key string, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
