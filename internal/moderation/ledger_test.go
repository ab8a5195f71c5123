package moderation

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordViolationEscalates(t *testing.T) {
	l := NewLedger(0)
	assert.Equal(t, 0, l.Count("a"))

	assert.Equal(t, Action{Kind: ActionWarn, Count: 1, Limit: 3}, l.RecordViolation("a"))
	assert.Equal(t, Action{Kind: ActionWarn, Count: 2, Limit: 3}, l.RecordViolation("a"))
	assert.Equal(t, Action{Kind: ActionRemove, Count: 3, Limit: 3}, l.RecordViolation("a"))
	// Past the threshold the sender stays in the removal state.
	assert.Equal(t, Action{Kind: ActionRemove, Count: 4, Limit: 3}, l.RecordViolation("a"))
	assert.Equal(t, 4, l.Count("a"))
}

func TestSendersAreIndependent(t *testing.T) {
	l := NewLedger(3)
	l.RecordViolation("a")
	l.RecordViolation("a")
	assert.Equal(t, Action{Kind: ActionWarn, Count: 1, Limit: 3}, l.RecordViolation("b"))
	assert.Equal(t, 2, l.Count("a"))
	assert.Equal(t, 1, l.Count("b"))
	assert.Equal(t, 2, l.Len())
}

func TestSetLimitKeepsCounts(t *testing.T) {
	l := NewLedger(5)
	l.RecordViolation("a")
	l.RecordViolation("a")
	l.SetLimit(2)
	assert.Equal(t, ActionRemove, l.RecordViolation("a").Kind)
	l.SetLimit(-1)
	assert.Equal(t, DefaultWarnLimit, l.Limit())
}

func TestRecordViolationConcurrent(t *testing.T) {
	l := NewLedger(1000)
	const workers, each = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				l.RecordViolation("shared")
				l.RecordViolation("own-" + strconv.Itoa(w))
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, workers*each, l.Count("shared"))
	for w := 0; w < workers; w++ {
		assert.Equal(t, each, l.Count("own-"+strconv.Itoa(w)))
	}
}
