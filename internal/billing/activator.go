package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/errcode"
	"cvforge/internal/notify"
	"cvforge/internal/tasks"
)

var ErrUnknownCustomer = errors.New("billing event does not identify a user")

// Converter runs draft conversions.
type Converter interface {
	Convert(ctx context.Context, id string, caller draft.Caller, trigger draft.Trigger) (draft.ConvertResult, error)
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier pushes events to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uint, msg notify.Message) error
}

// SubscriptionRecorder persists subscription state and keeps entitlements fresh.
type SubscriptionRecorder interface {
	Record(ctx context.Context, sub database.Subscription) error
}

// SubscriptionFinder resolves a provider subscription id to a user.
type SubscriptionFinder interface {
	GetByStripeSubscription(ctx context.Context, stripeID string) (database.Subscription, bool, error)
}

// ActivationResult summarizes what an activation did.
type ActivationResult struct {
	Active       bool   `json:"active"`
	CVID         uint   `json:"cv_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	DraftError   string `json:"draft_error,omitempty"`
}

// Activator applies billing events: it records the subscription and, when
// the event carries a draft reference, converts that draft for the payer.
type Activator struct {
	recorder  SubscriptionRecorder
	finder    SubscriptionFinder
	converter Converter
	queue     Enqueuer
	notifier  Notifier
	logger    *slog.Logger
	maxRetry  int
	now       func() time.Time
}

func NewActivator(recorder SubscriptionRecorder, finder SubscriptionFinder, converter Converter, queue Enqueuer, notifier Notifier, logger *slog.Logger, maxRetry int) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Activator{
		recorder:  recorder,
		finder:    finder,
		converter: converter,
		queue:     queue,
		notifier:  notifier,
		logger:    logger,
		maxRetry:  maxRetry,
		now:       time.Now,
	}
}

// Activate records act and converts its draft when the subscription is active.
// Conversion failures never fail the activation; internal ones are queued for retry.
func (a *Activator) Activate(ctx context.Context, act Activation, trigger draft.Trigger) (ActivationResult, error) {
	log := a.logger.With(
		slog.String("trigger", string(trigger)),
		slog.String("event_id", act.EventID),
		slog.String("session_id", act.SessionID),
	)

	if act.UserID == 0 && act.SubscriptionID != "" && a.finder != nil {
		existing, found, err := a.finder.GetByStripeSubscription(ctx, act.SubscriptionID)
		if err != nil {
			return ActivationResult{}, err
		}
		if found {
			act.UserID = existing.UserID
			if act.CustomerID == "" {
				act.CustomerID = existing.StripeCustomerID
			}
		}
	}
	if act.UserID == 0 {
		return ActivationResult{}, ErrUnknownCustomer
	}
	log = log.With(slog.Uint64("user_id", uint64(act.UserID)))

	sub := database.Subscription{
		UserID:               act.UserID,
		StripeCustomerID:     act.CustomerID,
		StripeSubscriptionID: act.SubscriptionID,
		Status:               act.Status,
		CurrentPeriodEnd:     act.PeriodEnd,
	}
	if err := a.recorder.Record(ctx, sub); err != nil {
		return ActivationResult{}, fmt.Errorf("record subscription: %w", err)
	}

	result := ActivationResult{Active: IsActive(sub, a.now())}
	active := result.Active
	if err := a.notifier.Notify(ctx, act.UserID, notify.Message{Type: notify.TypeSubscriptionSet, Active: &active}); err != nil {
		log.Warn("publish subscription notification failed", slog.Any("error", err))
	}

	if act.DraftID == "" || !result.Active {
		log.Info("subscription recorded", slog.String("status", act.Status), slog.Bool("active", result.Active))
		return result, nil
	}

	conv, err := a.ConvertDraft(ctx, act.UserID, act.DraftID, trigger)
	if err != nil {
		result.DraftError = err.Error()
		return result, nil
	}
	result.CVID = conv.CVID
	result.Deduplicated = conv.Deduplicated
	return result, nil
}

// ConvertDraft converts draftID for userID on behalf of a server-side trigger.
// Terminal failures are reported to the user; internal failures are queued for
// retry unless the caller is the retry task itself.
func (a *Activator) ConvertDraft(ctx context.Context, userID uint, draftID string, trigger draft.Trigger) (draft.ConvertResult, error) {
	log := a.logger.With(
		slog.String("draft_id", draftID),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("trigger", string(trigger)),
	)

	res, err := a.converter.Convert(ctx, draftID, draft.Caller{UserID: userID, ServerSide: true}, trigger)
	if err == nil {
		msg := notify.Message{
			Type:         notify.TypeCVConverted,
			DraftID:      draftID,
			CVID:         res.CVID,
			Deduplicated: res.Deduplicated,
			Trigger:      string(trigger),
		}
		if nerr := a.notifier.Notify(ctx, userID, msg); nerr != nil {
			log.Warn("publish conversion notification failed", slog.Any("error", nerr))
		}
		return res, nil
	}

	if draft.IsTerminal(err) {
		log.Warn("draft not converted", slog.Any("error", err))
		msg := notify.Message{
			Type:         notify.TypeConvertFailed,
			DraftID:      draftID,
			Trigger:      string(trigger),
			ErrorCode:    terminalCode(err),
			ErrorMessage: err.Error(),
		}
		if nerr := a.notifier.Notify(ctx, userID, msg); nerr != nil {
			log.Warn("publish conversion failure notification failed", slog.Any("error", nerr))
		}
		return draft.ConvertResult{}, err
	}

	if trigger != draft.TriggerRetry {
		if qerr := a.enqueueRetry(ctx, userID, draftID); qerr != nil {
			log.Error("enqueue conversion retry failed", slog.Any("error", qerr))
		} else {
			log.Warn("conversion failed, retry queued", slog.Any("error", err))
		}
	}
	return draft.ConvertResult{}, err
}

func (a *Activator) enqueueRetry(ctx context.Context, userID uint, draftID string) error {
	if a.queue == nil {
		return errors.New("no task queue configured")
	}
	task, err := tasks.NewDraftConvertTask(tasks.DraftConvertPayload{DraftID: draftID, UserID: userID})
	if err != nil {
		return err
	}
	_, err = a.queue.EnqueueContext(ctx, task, asynq.MaxRetry(a.maxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, uint, notify.Message) error { return nil }

func terminalCode(err error) int {
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return errcode.NotFound
	case errors.Is(err, draft.ErrExpired):
		return errcode.Expired
	case errors.Is(err, draft.ErrForbidden):
		return errcode.Forbidden
	case errors.Is(err, draft.ErrAuthenticationRequired):
		return errcode.AuthenticationRequired
	default:
		return errcode.InvalidDraft
	}
}
