package testevent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	test "github.com/mutualcredit/mcledger/internal/testutils"
	"github.com/mutualcredit/mcledger/transactor"
	"github.com/mutualcredit/mcledger/types"
)

type TestEventHandler struct {
	mutex  sync.Mutex
	events []*transactor.Event
}

func (eh *TestEventHandler) HandleEvent(e *transactor.Event) {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	eh.events = append(eh.events, e)
}

func (eh *TestEventHandler) GetEvents() []*transactor.Event {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	return eh.events
}

func (eh *TestEventHandler) Reset() {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()
	eh.events = []*transactor.Event{}
}

// Count returns number of events of type "et" about the transaction "txAddr".
func (eh *TestEventHandler) Count(et transactor.EventType, txAddr types.Address) int {
	cnt := 0
	for _, e := range eh.GetEvents() {
		if e.EventType == et && e.TransactionAddress == txAddr {
			cnt++
		}
	}
	return cnt
}

func ContainsEvent(t *testing.T, eh *TestEventHandler, et transactor.EventType, txAddr types.Address) {
	require.Eventually(t, func() bool {
		return eh.Count(et, txAddr) > 0
	}, test.WaitDuration, test.WaitTick)
}
