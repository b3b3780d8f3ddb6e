package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/square-key-labs/voicewire/src/logger"
	"github.com/square-key-labs/voicewire/src/store"
)

func TestToolRecorderBuffersAppointments(t *testing.T) {
	queue := store.NewWriteQueue("call-1")
	tr := toolRecorder{queue: queue, log: logger.Named("test")}

	require.NoError(t, tr.Invoke(context.Background(), "schedule_appointment", `{"slot":"sunday 09:00"}`))
	assert.Equal(t, 1, queue.Len(), "the booking is buffered, not persisted mid-call")

	// Tools the recorder does not know are logged and ignored.
	require.NoError(t, tr.Invoke(context.Background(), "order_pizza", `{}`))
	assert.Equal(t, 1, queue.Len())
}

func TestToolRecorderRejectsAfterFlush(t *testing.T) {
	queue := store.NewWriteQueue("call-1")
	tr := toolRecorder{queue: queue, log: logger.Named("test")}

	require.NoError(t, queue.Flush(context.Background(), store.LogFlusher{}))
	err := tr.Invoke(context.Background(), "schedule_appointment", `{}`)
	assert.ErrorIs(t, err, store.ErrAlreadyFlushed)
}
