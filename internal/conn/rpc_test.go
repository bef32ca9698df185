package conn

import "testing"

func TestRPCTableResolveDeliversToWaiter(t *testing.T) {
	t.Parallel()
	table := NewRPCTable()

	reqID := table.NextReqID()
	ch := table.Register(reqID)

	table.Resolve(Response{ReqID: reqID, Data: "ok"})

	resp, err := table.Wait(reqID, ch)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if resp.Data != "ok" {
		t.Errorf("Data = %v, want ok", resp.Data)
	}
}

func TestRPCTableNextReqIDMonotonic(t *testing.T) {
	t.Parallel()
	table := NewRPCTable()

	a := table.NextReqID()
	b := table.NextReqID()

	if b <= a {
		t.Errorf("NextReqID() = %d after %d, want strictly greater", b, a)
	}
}

func TestRPCTableResolveUnknownIsNoOp(t *testing.T) {
	t.Parallel()
	table := NewRPCTable()

	table.Resolve(Response{ReqID: 999})
}
