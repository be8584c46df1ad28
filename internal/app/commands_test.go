package app

import (
	"context"
	"errors"
	"testing"

	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/messaging"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, choice models.Choice) (*models.RunReport, error)

func (f runnerFunc) Run(ctx context.Context, choice models.Choice) (*models.RunReport, error) {
	return f(ctx, choice)
}

func commandMessage(t *testing.T, choice models.Choice) *interfaces.Message {
	t.Helper()
	raw, err := messaging.EncodeRunCommand(messaging.RunCommand{RequestedBy: "ops", Choice: choice})
	require.NoError(t, err)
	return &interfaces.Message{ID: "m-1", Topic: messaging.DefaultCommandsTopic, Value: raw}
}

func TestCommandHandler_RunsChoice(t *testing.T) {
	var got []models.Choice
	h := CommandHandler(runnerFunc(func(_ context.Context, c models.Choice) (*models.RunReport, error) {
		got = append(got, c)
		r := models.NewRunReport(c)
		r.Finish()
		return r, nil
	}), logger.NewNopLogger())

	choice := models.Choice{Operation: models.OperationUpdate, Options: models.OptionQty}
	require.NoError(t, h(context.Background(), commandMessage(t, choice)))
	require.Len(t, got, 1)
	assert.Equal(t, choice.Options, got[0].Options)
}

func TestCommandHandler_DropsMalformed(t *testing.T) {
	called := false
	h := CommandHandler(runnerFunc(func(context.Context, models.Choice) (*models.RunReport, error) {
		called = true
		return nil, nil
	}), logger.NewNopLogger())

	err := h(context.Background(), &interfaces.Message{ID: "bad", Value: []byte("{not json")})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestCommandHandler_ReturnsStartError(t *testing.T) {
	boom := errors.New("lock busy")
	h := CommandHandler(runnerFunc(func(context.Context, models.Choice) (*models.RunReport, error) {
		return nil, boom
	}), logger.NewNopLogger())

	err := h(context.Background(), commandMessage(t, models.Choice{Operation: models.OperationUpdate, Options: models.OptionFull}))
	assert.ErrorIs(t, err, boom)
}

func TestCommandHandler_ThroughMemoryBus(t *testing.T) {
	bus := messaging.NewMemoryBus()
	runs := 0
	h := CommandHandler(runnerFunc(func(_ context.Context, c models.Choice) (*models.RunReport, error) {
		runs++
		r := models.NewRunReport(c)
		r.Finish()
		return r, nil
	}), logger.NewNopLogger())

	unsubscribe, err := bus.Subscribe(context.Background(), messaging.DefaultCommandsTopic, h)
	require.NoError(t, err)
	defer unsubscribe()

	pub := messaging.NewCommandPublisher(bus, "")
	require.NoError(t, pub.Trigger(context.Background(), messaging.RunCommand{
		Choice: models.Choice{Operation: models.OperationUpdate, Options: models.OptionFull},
	}))
	assert.Equal(t, 1, runs)
}
