package repository

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestTxRefFilter_MatchesHistoryAndCurrentRef(t *testing.T) {
	f := txRefFilter("ORDER-o1-1")
	or, ok := f["$or"].(bson.A)
	if !ok || len(or) != 2 {
		t.Fatalf("expected a two-way $or, got %v", f)
	}
	if or[0].(bson.M)["tx_refs"] != "ORDER-o1-1" || or[1].(bson.M)["payment_result.external_ref"] != "ORDER-o1-1" {
		t.Fatalf("unexpected filter %v", f)
	}
}
