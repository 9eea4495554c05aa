package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetPositionsFiltersRedeemableAndEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/positions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("user") != "0xabc" {
			t.Errorf("user = %s", r.URL.Query().Get("user"))
		}
		w.Write([]byte(`[
			{"asset":"t1","conditionId":"m1","size":100,"avgPrice":0.4,"curPrice":0.45,"outcome":"YES"},
			{"asset":"t2","conditionId":"m2","size":50,"avgPrice":0.6,"curPrice":1.0,"outcome":"NO","redeemable":true},
			{"asset":"t3","conditionId":"m3","size":0,"avgPrice":0.2,"curPrice":0.2,"outcome":"YES"}
		]`))
	}))
	defer srv.Close()

	c := NewDataClient(srv.URL, nil)
	got, err := c.GetPositions(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("returned %d positions, want 1", len(got))
	}
	snap := got[0]
	if snap.TokenID != "t1" || snap.MarketID != "m1" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Shares != 100 || snap.AvgPrice != 0.4 || snap.CurPrice != 0.45 {
		t.Errorf("snapshot values = %+v", snap)
	}
}

func TestGetPositionsEmptyWallet(t *testing.T) {
	c := NewDataClient("http://unused", nil)
	if _, err := c.GetPositions(context.Background(), ""); err == nil {
		t.Error("empty wallet accepted")
	}
}
