package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/errcode"
	"cvforge/internal/notify"
	"cvforge/internal/tasks"
)

type recorderStub struct {
	subs []database.Subscription
	err  error
}

func (r *recorderStub) Record(_ context.Context, sub database.Subscription) error {
	r.subs = append(r.subs, sub)
	return r.err
}

type finderStub map[string]database.Subscription

func (f finderStub) GetByStripeSubscription(_ context.Context, id string) (database.Subscription, bool, error) {
	sub, ok := f[id]
	return sub, ok, nil
}

type converterStub struct {
	res     draft.ConvertResult
	err     error
	callers []draft.Caller
}

func (c *converterStub) Convert(_ context.Context, _ string, caller draft.Caller, _ draft.Trigger) (draft.ConvertResult, error) {
	c.callers = append(c.callers, caller)
	return c.res, c.err
}

type queueStub struct {
	tasks []*asynq.Task
	err   error
}

func (q *queueStub) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t"}, q.err
}

type notifierStub struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *notifierStub) Notify(_ context.Context, _ uint, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *notifierStub) types() []string {
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Type)
	}
	return out
}

type activatorFixture struct {
	act      *Activator
	recorder *recorderStub
	conv     *converterStub
	queue    *queueStub
	notes    *notifierStub
}

func newActivatorFixture(finder finderStub) *activatorFixture {
	f := &activatorFixture{
		recorder: &recorderStub{},
		conv:     &converterStub{},
		queue:    &queueStub{},
		notes:    &notifierStub{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.act = NewActivator(f.recorder, finder, f.conv, f.queue, f.notes, logger, 5)
	return f
}

func TestActivateConvertsDraftForActiveSubscription(t *testing.T) {
	f := newActivatorFixture(nil)
	f.conv.res = draft.ConvertResult{CVID: 11}

	res, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "active", DraftID: "d1"}, draft.TriggerBilling)
	require.NoError(t, err)
	assert.True(t, res.Active)
	assert.EqualValues(t, 11, res.CVID)

	require.Len(t, f.recorder.subs, 1)
	assert.EqualValues(t, 3, f.recorder.subs[0].UserID)
	require.Len(t, f.conv.callers, 1)
	assert.Equal(t, draft.Caller{UserID: 3, ServerSide: true}, f.conv.callers[0])
	assert.Equal(t, []string{notify.TypeSubscriptionSet, notify.TypeCVConverted}, f.notes.types())
	assert.Empty(t, f.queue.tasks)
}

func TestActivateSkipsDraftWhenInactive(t *testing.T) {
	f := newActivatorFixture(nil)

	res, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "past_due", DraftID: "d1"}, draft.TriggerBilling)
	require.NoError(t, err)
	assert.False(t, res.Active)
	assert.Empty(t, f.conv.callers)
}

func TestActivateResolvesUserFromSubscription(t *testing.T) {
	f := newActivatorFixture(finderStub{"sub_1": {UserID: 9, StripeCustomerID: "cus_9"}})

	_, err := f.act.Activate(context.Background(), Activation{SubscriptionID: "sub_1", Status: "canceled"}, draft.TriggerBilling)
	require.NoError(t, err)
	require.Len(t, f.recorder.subs, 1)
	assert.EqualValues(t, 9, f.recorder.subs[0].UserID)
	assert.Equal(t, "cus_9", f.recorder.subs[0].StripeCustomerID)

	_, err = f.act.Activate(context.Background(), Activation{SubscriptionID: "sub_unknown", Status: "active"}, draft.TriggerBilling)
	assert.ErrorIs(t, err, ErrUnknownCustomer)
}

func TestActivateSwallowsTerminalConversionErrors(t *testing.T) {
	f := newActivatorFixture(nil)
	f.conv.err = draft.ErrExpired

	res, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "active", DraftID: "d1"}, draft.TriggerBilling)
	require.NoError(t, err)
	assert.True(t, res.Active)
	assert.NotEmpty(t, res.DraftError)
	assert.Empty(t, f.queue.tasks, "terminal errors are never retried")

	last := f.notes.msgs[len(f.notes.msgs)-1]
	assert.Equal(t, notify.TypeConvertFailed, last.Type)
	assert.Equal(t, errcode.Expired, last.ErrorCode)
}

func TestActivateQueuesRetryOnInternalError(t *testing.T) {
	f := newActivatorFixture(nil)
	f.conv.err = draft.ErrInvalidDraft

	_, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "active", DraftID: "d1"}, draft.TriggerBilling)
	require.NoError(t, err)
	require.Len(t, f.queue.tasks, 1)

	p, err := tasks.ParseDraftConvertPayload(f.queue.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "d1", p.DraftID)
	assert.EqualValues(t, 3, p.UserID)
}

func TestConvertDraftFromRetryDoesNotRequeue(t *testing.T) {
	f := newActivatorFixture(nil)
	f.conv.err = draft.ErrInvalidDraft

	_, err := f.act.ConvertDraft(context.Background(), 3, "d1", draft.TriggerRetry)
	assert.ErrorIs(t, err, draft.ErrInvalidDraft)
	assert.Empty(t, f.queue.tasks)
}

func TestEnqueueRetryToleratesDuplicateTask(t *testing.T) {
	f := newActivatorFixture(nil)
	f.queue.err = asynq.ErrTaskIDConflict

	assert.NoError(t, f.act.enqueueRetry(context.Background(), 3, "d1"))
}

func TestActivateFailsWhenSubscriptionCannotBeRecorded(t *testing.T) {
	f := newActivatorFixture(nil)
	f.recorder.err = errors.New("db down")

	_, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "active", DraftID: "d1"}, draft.TriggerPolling)
	assert.Error(t, err)
	assert.Empty(t, f.conv.callers)
}

func TestActivatePeriodEndInPastIsInactive(t *testing.T) {
	f := newActivatorFixture(nil)
	past := time.Now().Add(-time.Hour)

	res, err := f.act.Activate(context.Background(), Activation{UserID: 3, Status: "active", PeriodEnd: &past, DraftID: "d1"}, draft.TriggerBilling)
	require.NoError(t, err)
	assert.False(t, res.Active)
	assert.Empty(t, f.conv.callers)
}
