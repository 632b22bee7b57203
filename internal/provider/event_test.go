package provider

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent([]byte(`{
		"id": "evt_1",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_1", "last_payment_error": {"message": "insufficient_funds"}}}
	}`))
	require.NoError(t, err)
	require.Equal(t, EventPaymentFailed, ev.Type)
	require.Equal(t, "pi_1", ev.ObjectID())
	require.Equal(t, "insufficient_funds", ev.FailureReason())

	ev, err = ParseEvent([]byte(`{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{}}}`))
	require.NoError(t, err)
	require.Empty(t, ev.ObjectID())
	require.Equal(t, UnknownFailureReason, ev.FailureReason())

	_, err = ParseEvent([]byte(`{"id":"evt_3"}`))
	require.Error(t, err)

	_, err = ParseEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestParseExpiry(t *testing.T) {
	tests := []struct {
		in        string
		wantMonth string
		wantYear  string
		wantErr   bool
	}{
		{in: "12/25", wantMonth: "12", wantYear: "25"},
		{in: "01/2030", wantMonth: "01", wantYear: "30"},
		{in: "13/25", wantErr: true},
		{in: "00/25", wantErr: true},
		{in: "1/25", wantErr: true},
		{in: "12-25", wantErr: true},
		{in: "ab/cd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			month, year, err := ParseExpiry(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantMonth, month)
			require.Equal(t, tt.wantYear, year)
		})
	}
}

func TestMinorUnits(t *testing.T) {
	require.Equal(t, int64(9999), MinorUnits(decimal.RequireFromString("99.99")))
	require.Equal(t, int64(100), MinorUnits(decimal.RequireFromString("1")))
	require.Equal(t, int64(1), MinorUnits(decimal.RequireFromString("0.005")))
	require.Equal(t, int64(123456), MinorUnits(decimal.RequireFromString("1234.56")))
}
