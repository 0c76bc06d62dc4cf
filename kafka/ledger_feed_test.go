package kafka

import (
	// Go Internal Packages
	"testing"
	"time"

	// Local Packages
	models "tx-tracker/models"

	// External Packages
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

var closedAt = time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)

func TestDecodeLedgerClosed(t *testing.T) {
	rec := models.Record{
		Topic:     "ledger-closed",
		Value:     []byte(`{"sequence":51234,"hash":"ab12","closed_at":"2026-03-01T12:00:05Z","tx_count":17}`),
		Timestamp: closedAt,
	}

	ev, err := DecodeRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, models.EventLedgerClosed, ev.Kind)
	assert.Equal(t, closedAt, ev.Timestamp)

	var lc models.LedgerClosed
	require.NoError(t, ev.Decode(&lc))
	assert.Equal(t, int64(51234), lc.Sequence)
	assert.Equal(t, "ab12", lc.Hash)
	assert.Equal(t, 17, lc.TxCount)
}

func TestDecodeHeartbeat(t *testing.T) {
	ev, err := DecodeRecord(models.Record{
		Headers:   map[string]string{KindHeader: "heartbeat"},
		Timestamp: closedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventHeartbeat, ev.Kind)
	assert.Empty(t, ev.Payload)
	assert.True(t, ev.Kind.Upstream())

	ev, err = DecodeRecord(models.Record{
		Headers: map[string]string{KindHeader: "heartbeat"},
		Value:   []byte(`{"latest_ledger":9}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"latest_ledger":9}`, string(ev.Payload))
}

func TestDecodeRejectsBadRecords(t *testing.T) {
	cases := map[string]models.Record{
		"not json":      {Value: []byte("ledger 12 closed")},
		"zero sequence": {Value: []byte(`{"hash":"ab"}`)},
		"unknown kind":  {Headers: map[string]string{KindHeader: "reconnecting"}, Value: []byte(`{}`)},
		"empty ledger":  {Headers: map[string]string{KindHeader: "ledger_closed"}},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeRecord(rec)
			assert.Error(t, err)
		})
	}
}

func TestToRecordCopiesHeaders(t *testing.T) {
	rec := toRecord(&kgo.Record{
		Key:       []byte("51234"),
		Value:     []byte(`{}`),
		Topic:     "ledger-closed",
		Timestamp: closedAt,
		Headers:   []kgo.RecordHeader{{Key: KindHeader, Value: []byte("heartbeat")}},
	})
	assert.Equal(t, "ledger-closed", rec.Topic)
	assert.Equal(t, "heartbeat", rec.Headers[KindHeader])
	assert.Equal(t, closedAt, rec.Timestamp)
}
