package reconcile

import (
	"testing"
	"time"
)

func TestRefresherTicks(t *testing.T) {
	gw := &fakeGateway{}
	gw.setRows(row("C-1", "x", "New"))
	ctrl, st := newTestController(t, gw, fastOptions())

	r := NewRefresher(ctrl, 5*time.Millisecond, testLogger())
	r.Start()
	waitFor(t, "periodic refresh", func() bool { return gw.fetchCount() >= 2 })
	r.Stop()

	if st.Len() != 1 {
		t.Errorf("store len = %d, want 1", st.Len())
	}

	n := gw.fetchCount()
	time.Sleep(20 * time.Millisecond)
	if gw.fetchCount() != n {
		t.Error("refresher kept running after Stop")
	}
}

func TestRefresherDisabled(t *testing.T) {
	gw := &fakeGateway{}
	ctrl, _ := newTestController(t, gw, fastOptions())

	r := NewRefresher(ctrl, 0, testLogger())
	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Stop()

	if gw.fetchCount() != 0 {
		t.Errorf("disabled refresher fetched %d times", gw.fetchCount())
	}
}
