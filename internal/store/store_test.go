package store

import (
	"testing"
	"time"

	"github.com/quantflow/backtest-engine/internal/xerrors"
	"github.com/quantflow/backtest-engine/pkg/types"
)

func kl(minute int, close float64) types.Kline {
	return types.Kline{Datetime: time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC), Close: close}
}

func items(ks ...types.Kline) []Item {
	out := make([]Item, len(ks))
	for i, k := range ks {
		out[i] = k
	}
	return out
}

func TestStore_InitOnlyWhenEmpty(t *testing.T) {
	s := New()
	s.Init("k", items(kl(0, 1), kl(1, 2)))
	s.Init("k", items(kl(5, 99)))
	if s.Len("k") != 2 {
		t.Fatalf("expected Init to be a no-op on a non-empty series, got len %d", s.Len("k"))
	}
}

func TestStore_AppendSortsAndDedups(t *testing.T) {
	s := New()
	s.Append("k", items(kl(2, 3), kl(0, 1), kl(1, 2), kl(1, 99)))
	out, err := s.Slice("k", nil, nil)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 deduped items, got %d", len(out))
	}
	mid := out[1].(types.Kline)
	if mid.Close != 99 {
		t.Fatalf("expected last-write-wins on duplicate timestamp, got close=%v", mid.Close)
	}
}

func TestStore_UpdateReplacesTailOrAppends(t *testing.T) {
	s := New()
	s.Update("k", kl(0, 1))
	s.Update("k", kl(0, 2)) // same timestamp -> replace tail
	s.Update("k", kl(1, 3)) // new timestamp -> append
	out, _ := s.Slice("k", nil, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if out[0].(types.Kline).Close != 2 {
		t.Fatalf("expected tail replaced, got %v", out[0])
	}
}

func TestStore_SliceModes(t *testing.T) {
	s := New()
	s.Append("k", items(kl(0, 0), kl(1, 1), kl(2, 2), kl(3, 3), kl(4, 4)))

	idx, limit := 2, 2
	out, err := s.Slice("k", &idx, &limit)
	if err != nil || len(out) != 2 {
		t.Fatalf("index+limit: got %v items, err=%v", len(out), err)
	}
	if out[0].(types.Kline).Close != 1 || out[1].(types.Kline).Close != 2 {
		t.Fatalf("expected window [1,2], got %v", out)
	}

	idx = 2
	out, err = s.Slice("k", &idx, nil)
	if err != nil || len(out) != 3 {
		t.Fatalf("index only: got %v items, err=%v", len(out), err)
	}

	limit = 2
	out, err = s.Slice("k", nil, &limit)
	if err != nil || len(out) != 2 || out[0].(types.Kline).Close != 3 {
		t.Fatalf("limit only: expected last 2, got %v err=%v", out, err)
	}

	out, err = s.Slice("k", nil, nil)
	if err != nil || len(out) != 5 {
		t.Fatalf("full series: got %v items, err=%v", len(out), err)
	}
}

func TestStore_SliceOutOfRange(t *testing.T) {
	s := New()
	s.Append("k", items(kl(0, 0), kl(1, 1)))
	idx := 5
	_, err := s.Slice("k", &idx, nil)
	xe, ok := err.(*xerrors.Error)
	if !ok || xe.Code() != xerrors.CodePlayIndexOutOfRange {
		t.Fatalf("expected PlayIndexOutOfRange, got %v", err)
	}
}

func TestStore_UnknownKey(t *testing.T) {
	s := New()
	_, err := s.Slice("missing", nil, nil)
	xe, ok := err.(*xerrors.Error)
	if !ok || xe.Code() != xerrors.CodeKlineKeyNotFound {
		t.Fatalf("expected KlineKeyNotFound, got %v", err)
	}
}
