package openitems

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveState(t *testing.T) {
	due := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	item := OpenItem{State: StateOpen, DueDate: due}

	assert.Equal(t, StateOpen, item.EffectiveState(due.AddDate(0, 0, -1)))
	assert.Equal(t, StateDelinquent, item.EffectiveState(due.AddDate(0, 0, 1)))

	closed := OpenItem{State: StateClosed, DueDate: due}
	assert.Equal(t, StateClosed, closed.EffectiveState(due.AddDate(0, 1, 0)))
}

func TestClosureRowKind(t *testing.T) {
	cases := []struct {
		name      string
		requested MovementKind
		original  MovementKind
		want      MovementKind
		wantErr   error
	}{
		{"closure of payable", KindClosure, KindCreditOpen, KindClosureCredit, nil},
		{"closure of receivable", KindClosure, KindDebitOpen, KindClosureDebit, nil},
		{"credit reversal", KindCreditReversal, KindCreditOpen, KindClosureCredit, nil},
		{"debit reversal", KindDebitReversal, KindDebitOpen, KindClosureDebit, nil},
		{"explicit closure credit", KindClosureCredit, KindCreditOpen, KindClosureCredit, nil},
		{"credit reversal of receivable", KindCreditReversal, KindDebitOpen, "", ErrIncompatibleKind},
		{"debit reversal of payable", KindDebitReversal, KindCreditOpen, "", ErrIncompatibleKind},
		{"opening kind as closure", KindCreditOpen, KindCreditOpen, "", ErrInvalidKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ClosureRowKind(tc.requested, tc.original)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKindPredicates(t *testing.T) {
	assert.True(t, IsOpeningKind(KindCreditOpen))
	assert.True(t, IsOpeningKind(KindDebitOpen))
	assert.False(t, IsOpeningKind(KindClosure))

	assert.True(t, IsClosingKind(KindClosure))
	assert.True(t, IsClosingKind(KindCreditReversal))
	assert.False(t, IsClosingKind(KindDebitOpen))
}
