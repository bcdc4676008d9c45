package bulk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(name string) HandlerFunc {
	return HandlerFunc{
		JobType: name,
		Build: func(context.Context, ProcessorRequest) (Processor, error) {
			return ProcessorFunc(func(_ context.Context, item Item) Outcome { return Succeeded(item, "", nil) }), nil
		},
	}
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register(noopHandler("desk.tickets.create"))
	r.Register(&emailHandler{})

	assert.True(t, r.Has("desk.tickets.create"))
	assert.False(t, r.Has("desk.tickets.delete"))
	assert.Nil(t, r.Get("desk.tickets.delete"))
	assert.Equal(t, []string{"desk.tickets.create", testJobType}, r.Names())

	infos := r.Describe()
	require.Len(t, infos, 2)
	assert.Equal(t, HandlerInfo{Name: "desk.tickets.create"}, infos[0])
	assert.Equal(t, HandlerInfo{Name: testJobType, IdentifierField: "email", Description: "creates test items"}, infos[1])

	proc, err := r.Get("desk.tickets.create").NewProcessor(context.Background(), ProcessorRequest{})
	require.NoError(t, err)
	assert.True(t, proc.Process(context.Background(), Item{Identifier: "x"}).Success)
}

func TestHandlerRegistry_DuplicatePanics(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register(noopHandler("a"))
	assert.Panics(t, func() { r.Register(noopHandler("a")) })
}

func TestMultiSink(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	MultiSink{a, nil, b}.Emit(Event{Type: EventComplete})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.True(t, a.Wait(time.Second))
}
