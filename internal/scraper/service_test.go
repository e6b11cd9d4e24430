package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeProcess struct {
	calls []string
}

func (f *fakeProcess) Kill()    { f.calls = append(f.calls, "kill") }
func (f *fakeProcess) Cleanup() { f.calls = append(f.calls, "cleanup") }

func TestConnectOrKill(t *testing.T) {
	t.Run("connect fails", func(t *testing.T) {
		proc := &fakeProcess{}
		refused := errors.New("connection refused")

		err := connectOrKill(proc, func() error { return refused })
		assert.ErrorIs(t, err, refused)
		assert.Equal(t, []string{"kill", "cleanup"}, proc.calls)
	})

	t.Run("connect succeeds", func(t *testing.T) {
		proc := &fakeProcess{}
		assert.NoError(t, connectOrKill(proc, func() error { return nil }))
		assert.Empty(t, proc.calls, "a connected browser is left running")
	})
}
