package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStateTransition(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		wantErr error
	}{
		{StateReceived, StateParsed, nil},
		{StateParsed, StateColumnMapped, nil},
		{StateColumnMapped, StateValidated, nil},
		{StateValidated, StatePersisted, nil},
		{StateReceived, StateRejected, nil},
		{StateValidated, StateRejected, nil},
		{StateReceived, StateValidated, ErrInvalidTransition},
		{StateColumnMapped, StateParsed, ErrInvalidTransition},
		{StatePersisted, StateRejected, ErrTerminalStateImmutable},
		{StateRejected, StateParsed, ErrTerminalStateImmutable},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateStateTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLifecycleTrail(t *testing.T) {
	l := newLifecycle()

	require.NoError(t, l.advance(StateParsed))
	require.NoError(t, l.advance(StateColumnMapped))
	l.reject()
	l.reject()

	assert.Equal(t, StateRejected, l.state)
	assert.Equal(t, []State{StateReceived, StateParsed, StateColumnMapped, StateRejected}, l.trail)
	assert.ErrorIs(t, l.advance(StateValidated), ErrTerminalStateImmutable)
}
