package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	stateReady StateID = iota + 1
	stateRunning
	stateDone
	stateFailed
)

const (
	eventStart EventID = iota + 1
	eventFinish
	eventBoom
)

func simpleSpec() *Spec {
	return NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{}).
		AddState(stateRunning, Hooks{}).
		AddState(stateDone, Hooks{Final: true}).
		AddState(stateFailed, Hooks{Final: true}).
		AddTransition(stateReady, eventStart, stateRunning).
		AddTransition(stateRunning, eventFinish, stateDone).
		AddTransition(stateRunning, eventBoom, stateFailed)
}

func TestSpecValidate_Clean(t *testing.T) {
	problems := simpleSpec().Validate()
	assert.Empty(t, problems)
}

func TestSpecValidate_UnreachableState(t *testing.T) {
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{Final: true}).
		AddState(stateRunning, Hooks{Final: true}).
		AddState(stateFailed, Hooks{Final: true})
	problems := spec.Validate()
	require.NotEmpty(t, problems)
}

func TestSpecValidate_MissingOutbound(t *testing.T) {
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{}).
		AddState(stateFailed, Hooks{Final: true})
	problems := spec.Validate()
	require.NotEmpty(t, problems)
}

func TestEngine_HappyPath(t *testing.T) {
	spec := simpleSpec()
	require.Empty(t, spec.Validate())
	e := New(spec)

	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, stateReady, ctx.State())

	require.NoError(t, e.HandleEvent(ctx, eventStart))
	assert.Equal(t, stateRunning, ctx.State())

	require.NoError(t, e.HandleEvent(ctx, eventFinish))
	assert.Equal(t, stateDone, ctx.State())
	assert.True(t, e.Finished(ctx))
	assert.False(t, e.Failed(ctx))
}

func TestEngine_UnhandledEventFails(t *testing.T) {
	e := New(simpleSpec())
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))

	err := e.HandleEvent(ctx, eventFinish) // not valid from stateReady
	require.Error(t, err)
	assert.True(t, e.Failed(ctx))
}

func TestEngine_ExplicitFailedTransition(t *testing.T) {
	e := New(simpleSpec())
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.HandleEvent(ctx, eventStart))

	require.NoError(t, e.HandleEvent(ctx, eventBoom))
	assert.True(t, e.Failed(ctx))
}

func TestEngine_EnterChainsPendingEvents(t *testing.T) {
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{
			Enter: func(ctx *Context) error {
				PushEvent(ctx, eventStart)
				return nil
			},
		}).
		AddState(stateRunning, Hooks{
			Enter: func(ctx *Context) error {
				PushEvent(ctx, eventFinish)
				return nil
			},
		}).
		AddState(stateDone, Hooks{Final: true}).
		AddState(stateFailed, Hooks{Final: true}).
		AddTransition(stateReady, eventStart, stateRunning).
		AddTransition(stateRunning, eventFinish, stateDone)

	e := New(spec)
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, stateDone, ctx.State())
}

func TestEngine_PrerequisitesBlockEntry(t *testing.T) {
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{}).
		AddState(stateRunning, Hooks{
			PrerequisitesSatisfied: func(ctx *Context) bool { return false },
		}).
		AddState(stateFailed, Hooks{Final: true}).
		AddTransition(stateReady, eventStart, stateRunning)

	e := New(spec)
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	err := e.HandleEvent(ctx, eventStart)
	require.Error(t, err)
	assert.True(t, e.Failed(ctx))
}

func TestEngine_HookErrorFails(t *testing.T) {
	boom := errors.New("boom")
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{}).
		AddState(stateRunning, Hooks{
			Enter: func(ctx *Context) error { return boom },
		}).
		AddState(stateFailed, Hooks{Final: true}).
		AddTransition(stateReady, eventStart, stateRunning)

	e := New(spec)
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	err := e.HandleEvent(ctx, eventStart)
	require.ErrorIs(t, err, boom)
	assert.True(t, e.Failed(ctx))
}

func TestEngine_Disambiguate(t *testing.T) {
	spec := NewSpec(stateReady, stateFailed).
		AddState(stateReady, Hooks{
			Disambiguate: func(ctx *Context, event EventID, candidates []StateID) StateID {
				return stateDone
			},
		}).
		AddState(stateRunning, Hooks{Final: true}).
		AddState(stateDone, Hooks{Final: true}).
		AddState(stateFailed, Hooks{Final: true}).
		AddTransition(stateReady, eventStart, stateRunning).
		AddTransition(stateReady, eventStart, stateDone)

	e := New(spec)
	ctx := &Context{}
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.HandleEvent(ctx, eventStart))
	assert.Equal(t, stateDone, ctx.State())
}
