package service_registry

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

func (r *recorder) service(name string, startErr, stopErr error) Service {
	return ServiceFunc{
		StartFn: func() error {
			r.calls = append(r.calls, "start "+name)
			return startErr
		},
		StopFn: func() error {
			r.calls = append(r.calls, "stop "+name)
			return stopErr
		},
	}
}

func TestStartStopOrder(t *testing.T) {
	rec := &recorder{}
	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("transport", rec.service("transport", nil, nil))
	sr.RegisterService("engine", rec.service("engine", nil, nil))
	sr.RegisterService("api", rec.service("api", nil, nil))

	require.NoError(t, sr.StartServices())
	require.NoError(t, sr.StopServices())

	assert.Equal(t, []string{
		"start transport", "start engine", "start api",
		"stop api", "stop engine", "stop transport",
	}, rec.calls)
}

func TestDuplicateRegistrationIgnored(t *testing.T) {
	rec := &recorder{}
	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("engine", rec.service("engine", nil, nil))
	sr.RegisterService("engine", rec.service("other", nil, nil))

	assert.Equal(t, []string{"engine"}, sr.Services())
}

func TestStartFailureRollsBack(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")

	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("transport", rec.service("transport", nil, nil))
	sr.RegisterService("engine", rec.service("engine", boom, nil))
	sr.RegisterService("api", rec.service("api", nil, nil))

	err := sr.StartServices()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start transport", "start engine", "stop transport"}, rec.calls)

	// Nothing left to stop.
	require.NoError(t, sr.StopServices())
	assert.Len(t, rec.calls, 3)
}

func TestStopJoinsErrors(t *testing.T) {
	rec := &recorder{}
	errA := errors.New("a")
	errB := errors.New("b")

	sr := NewServiceRegistry(zerolog.Nop())
	sr.RegisterService("a", rec.service("a", nil, errA))
	sr.RegisterService("b", rec.service("b", nil, errB))
	sr.RegisterService("c", rec.service("c", nil, nil))

	require.NoError(t, sr.StartServices())
	err := sr.StopServices()
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, rec.calls)
}
