package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFlowResultReadableAfterDone(t *testing.T) {
	flow := newFlow("f1", FlowOAuth, "https://consent.example/f1", time.Now())
	if _, finished := flow.Result(); finished {
		t.Fatalf("new flow should not be finished")
	}

	if !flow.finish(StateDelivered, Result{Credential: "T1"}) {
		t.Fatalf("first finish should win")
	}
	if flow.finish(StateReported, Result{Err: ErrDelivery}) {
		t.Fatalf("second finish must be ignored")
	}

	<-flow.Done()
	<-flow.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for i := 0; i < 2; i++ {
		res, err := flow.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait #%d after Done returned error: %v", i, err)
		}
		if res.Credential != "T1" || res.FlowID != "f1" || res.Kind != FlowOAuth {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	if flow.State() != StateDelivered {
		t.Fatalf("state = %s", flow.State())
	}
}

func TestFlowWakesEveryWaiter(t *testing.T) {
	flow := newFlow("f2", FlowOAuth, "", time.Now())

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			res, err := flow.Wait(ctx)
			if err == nil && !errors.Is(res.Err, ErrFlowAbandoned) {
				err = errors.New("unexpected result")
			}
			errs <- err
		}()
	}

	flow.finish(StateIdle, Result{Err: ErrFlowAbandoned})
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
	}
}
