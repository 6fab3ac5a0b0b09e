package store

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numeric converts d without going through float64 or text.
func numeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

// nullDecimal converts a scanned NUMERIC. NaN and infinities become NULL.
func nullDecimal(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}
	}
	if n.Int == nil {
		return decimal.NullDecimal{Decimal: decimal.Zero, Valid: true}
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromBigInt(n.Int, n.Exp), Valid: true}
}

func nullInt8(n sql.NullInt64) pgtype.Int8 {
	return pgtype.Int8{Int64: n.Int64, Valid: n.Valid}
}

func nullTimestamptz(t sql.NullTime) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t.Time.UTC(), Valid: t.Valid}
}
