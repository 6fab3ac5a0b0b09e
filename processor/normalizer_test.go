package processor

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var testMapping = Mapping{
	Table: "test",
	Fields: []Field{
		{Upstream: "id", Column: "id", Kind: Text},
		{Upstream: "priceUsd", Column: "price", Kind: Decimal},
		{Upstream: "tradesCount24Hr", Column: "trades", Kind: Integer},
		{Upstream: "time", Column: "at_ms", Kind: UnixMillis},
		{Upstream: "date", Column: "at", Kind: Timestamp},
	},
}

func TestNormalizeArray(t *testing.T) {
	raw := json.RawMessage(`[
		{"id":"bitcoin","priceUsd":"12345.6789012345","tradesCount24Hr":"42","time":1700000000000,"date":"2023-11-14T22:13:20.000Z","extra":"dropped"},
		{"id":"ethereum","priceUsd":2000.5,"tradesCount24Hr":7}
	]`)
	rows, err := Normalize(raw, testMapping)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Text("id") != "bitcoin" {
		t.Fatalf("unexpected id %q", first.Text("id"))
	}
	if p := first.Decimal("price"); !p.Valid || p.Decimal.String() != "12345.6789012345" {
		t.Fatalf("unexpected price %+v", p)
	}
	if n := first.Int("trades"); !n.Valid || n.Int64 != 42 {
		t.Fatalf("unexpected trades %+v", n)
	}
	want := time.UnixMilli(1700000000000).UTC()
	if at := first.Time("at_ms"); !at.Valid || !at.Time.Equal(want) {
		t.Fatalf("unexpected at_ms %+v", at)
	}
	if at := first.Time("at"); !at.Valid || !at.Time.Equal(want) || at.Time.Location() != time.UTC {
		t.Fatalf("unexpected at %+v", at)
	}
	if _, ok := first["extra"]; ok {
		t.Fatal("undeclared attribute was kept")
	}
	if len(first) != len(testMapping.Fields) {
		t.Fatalf("expected %d columns, got %d", len(testMapping.Fields), len(first))
	}

	second := rows[1]
	if p := second.Decimal("price"); !p.Valid || p.Decimal.String() != "2000.5" {
		t.Fatalf("unexpected numeric price %+v", p)
	}
	if at := second.Time("at"); at.Valid {
		t.Fatalf("missing date should be NULL, got %+v", at)
	}
}

func TestNormalizeObjectIsOneRow(t *testing.T) {
	rows, err := Normalize(json.RawMessage(`{"id":"bitcoin"}`), testMapping)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(rows) != 1 || rows[0].Text("id") != "bitcoin" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	for _, in := range []string{``, `null`, `  `, `[]`} {
		rows, err := Normalize(json.RawMessage(in), testMapping)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if len(rows) != 0 {
			t.Fatalf("Normalize(%q) returned %d rows", in, len(rows))
		}
	}
}

func TestNormalizeRejectsScalars(t *testing.T) {
	for _, in := range []string{`"text"`, `42`, `[1,2]`, `[{"id":"a"},"b"]`} {
		_, err := Normalize(json.RawMessage(in), testMapping)
		if !errors.Is(err, ErrNotTabular) {
			t.Fatalf("Normalize(%q) = %v, want ErrNotTabular", in, err)
		}
	}
	if _, err := Normalize(json.RawMessage(`{"id":`), testMapping); err == nil {
		t.Fatal("expected error for truncated object")
	}
}

func TestNormalizeNullsNeverFail(t *testing.T) {
	raw := json.RawMessage(`{"id":null,"priceUsd":"n/a","tradesCount24Hr":"","time":"soon","date":"yesterday"}`)
	rows, err := Normalize(raw, testMapping)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	r := rows[0]
	if r.Text("id") != "" || r.Decimal("price").Valid || r.Int("trades").Valid || r.Time("at_ms").Valid || r.Time("at").Valid {
		t.Fatalf("expected all NULL, got %+v", r)
	}
}

func TestNormalizeCaseInsensitiveLookup(t *testing.T) {
	rows, err := Normalize(json.RawMessage(`{"ID":"bitcoin","PriceUSD":"1.5"}`), testMapping)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rows[0].Text("id") != "bitcoin" {
		t.Fatalf("case-insensitive id lookup failed: %+v", rows[0])
	}
	if p := rows[0].Decimal("price"); !p.Valid || p.Decimal.String() != "1.5" {
		t.Fatalf("case-insensitive price lookup failed: %+v", p)
	}
}

func TestNormalizeExactMatchWins(t *testing.T) {
	rows, err := Normalize(json.RawMessage(`{"priceusd":"1","priceUsd":"2"}`), testMapping)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if p := rows[0].Decimal("price"); p.Decimal.String() != "2" {
		t.Fatalf("expected exact match, got %s", p.Decimal)
	}
}

func TestIntegerCoercion(t *testing.T) {
	cases := map[string]struct {
		valid bool
		want  int64
	}{
		`"42"`:                   {true, 42},
		`42`:                     {true, 42},
		`"42.0"`:                 {true, 42},
		`"1e3"`:                  {true, 1000},
		`"42.5"`:                 {false, 0},
		`"99999999999999999999"`: {false, 0},
		`"1e999999999"`:          {false, 0},
		`-1e999999999`:           {false, 0},
		`"1e-999999999"`:         {false, 0},
		`"0e999999999"`:          {true, 0},
		`"1200e-2"`:              {true, 12},
		`true`:                   {false, 0},
		`null`:                   {false, 0},
	}
	for in, tc := range cases {
		got := toInt(json.RawMessage(in))
		if got.Valid != tc.valid || got.Int64 != tc.want {
			t.Fatalf("toInt(%s) = %+v, want valid=%v %d", in, got, tc.valid, tc.want)
		}
	}
}

func TestHugeExponentsAreNullAndCheap(t *testing.T) {
	raw := json.RawMessage(`{"tradesCount24Hr":"1e999999999","time":"9e999999999","priceUsd":"1e999999999"}`)
	start := time.Now()
	rows, err := Normalize(raw, testMapping)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("coercion took %s", elapsed)
	}
	if rows[0].Int("trades").Valid || rows[0].Time("at_ms").Valid || rows[0].Decimal("price").Valid {
		t.Fatalf("expected NULLs, got %v", rows[0])
	}
}

func TestDecimalCoercionBounds(t *testing.T) {
	cases := map[string]bool{
		`"12345.6789012345"`:       true,
		`"99999999999999999999.5"`: true,
		`"1e20"`:                   false,
		`"1e-70"`:                  false,
		`"0e999999999"`:            true,
		`"-0e-999999999"`:          true,
	}
	for in, valid := range cases {
		if got := toDecimal(json.RawMessage(in)); got.Valid != valid {
			t.Fatalf("toDecimal(%s) valid=%v, want %v", in, got.Valid, valid)
		}
	}
}

func TestKindString(t *testing.T) {
	if Decimal.String() != "decimal" || UnixMillis.String() != "unix_millis" || Kind(99).String() != "kind(99)" {
		t.Fatal("unexpected kind names")
	}
}
