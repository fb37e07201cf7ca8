package logger

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	p2ptest "github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/require"

	"github.com/mutualcredit/mcledger/types"
)

const testAddress = types.Address("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")

func Test_chainFormatters(t *testing.T) {
	add := func(n int64) attrFormatter {
		return func(groups []string, a slog.Attr) slog.Attr { return slog.Int64(a.Key, a.Value.Int64()+n) }
	}
	drop := func(groups []string, a slog.Attr) slog.Attr { return slog.Attr{} }

	require.Nil(t, chainFormatters())
	require.Nil(t, chainFormatters(nil, nil))

	f := chainFormatters(nil, add(1), nil)
	require.EqualValues(t, 1, f(nil, slog.Int64("n", 0)).Value.Int64())

	f = chainFormatters(add(1), add(2), add(4), add(8), nil)
	require.EqualValues(t, 15, f(nil, slog.Int64("n", 0)).Value.Int64())

	// formatters after the one dropping the attribute are not called
	f = chainFormatters(add(1), drop, func(groups []string, a slog.Attr) slog.Attr {
		t.Error("unexpected call")
		return a
	})
	require.Equal(t, slog.Attr{}, f(nil, slog.Int64("n", 0)))
}

func Test_timeFormatter(t *testing.T) {
	require.Nil(t, timeFormatter(""))
	now := time.Now()

	t.Run("none", func(t *testing.T) {
		f := timeFormatter("none")
		require.Equal(t, slog.Attr{}, f(nil, slog.Time(slog.TimeKey, now)))
		// only the time of the record is dropped
		require.True(t, f(nil, slog.Time("created", now)).Equal(slog.Time("created", now)))
		require.True(t, f([]string{"offer"}, slog.Time(slog.TimeKey, now)).Equal(slog.Time(slog.TimeKey, now)))
	})

	t.Run("layout", func(t *testing.T) {
		f := timeFormatter(time.Kitchen)
		require.Equal(t, now.Format(time.Kitchen), f(nil, slog.Time(slog.TimeKey, now)).Value.String())
		zero := slog.Time(slog.TimeKey, time.Time{})
		require.True(t, zero.Equal(f(nil, zero)))
	})
}

func Test_identityFormatter(t *testing.T) {
	id, err := p2ptest.RandPeerID()
	require.NoError(t, err)

	require.Nil(t, identityFormatter(""))
	require.Nil(t, identityFormatter("long"))

	f := identityFormatter("none")
	require.Equal(t, slog.Attr{}, f(nil, NodeID(id)))
	require.True(t, Agent(testAddress).Equal(f(nil, Agent(testAddress))))

	f = identityFormatter("short")
	a := f(nil, NodeID(id))
	require.Equal(t, NodeIDKey, a.Key)
	require.Equal(t, id.String()[:2]+"*"+id.String()[len(id.String())-6:], a.Value.String())

	require.Equal(t, "9f86*f00a08", f(nil, TxAddress(testAddress)).Value.String())
	require.Equal(t, "9f86*f00a08", f(nil, Agent(testAddress)).Value.String())
	// short values and other keys are not changed
	require.Equal(t, "abc", f(nil, TxAddress("abc")).Value.String())
	require.Equal(t, testAddress.String(), f(nil, slog.String("other", testAddress.String())).Value.String())
}

func Test_dataAsJSON(t *testing.T) {
	type offerData struct {
		Amount float64
		State  string
	}
	a := dataAsJSON(nil, Data(&offerData{Amount: 2.5, State: "pending"}))
	require.Equal(t, DataKey, a.Key)
	require.Equal(t, `{"Amount":2.5,"State":"pending"}`, a.Value.String())

	a = dataAsJSON(nil, slog.Any("other", &offerData{}))
	require.Equal(t, slog.KindAny, a.Value.Kind())
}

func Test_consoleAttrs(t *testing.T) {
	for _, a := range []slog.Attr{
		slog.String(slog.LevelKey, "INFO"),
		slog.String(slog.MessageKey, "offer created"),
		Error(errors.New("boom")),
		TxAddress(testAddress),
	} {
		require.True(t, a.Equal(consoleAttrs(nil, a)), a.Key)
	}
	require.Equal(t, slog.Attr{}, consoleAttrs(nil, slog.Time(slog.TimeKey, time.Now())))
	require.Equal(t, slog.Attr{}, consoleAttrs(nil, Agent(testAddress)))
}

func Test_ecsAttrs(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		src := &slog.Source{Function: "github.com/mutualcredit/mcledger/transactor.(*Agent).CreateOffer", File: "offers.go", Line: 10}
		a := ecsAttrs(nil, slog.Any(slog.SourceKey, src))
		require.Equal(t, "log", a.Key)
		origin := a.Value.Group()[0]
		require.Equal(t, "origin", origin.Key)
		require.True(t, slog.String("function", "(*Agent).CreateOffer").Equal(origin.Value.Group()[0]))
		file := origin.Value.Group()[1].Value.Group()
		require.True(t, slog.String("name", "offers.go").Equal(file[0]))
		require.True(t, slog.Int("line", 10).Equal(file[1]))
	})

	t.Run("renamed keys", func(t *testing.T) {
		var testCases = []struct {
			in    slog.Attr
			group []string
		}{
			{in: TxAddress(testAddress), group: []string{"transaction", "id"}},
			{in: Agent(testAddress), group: []string{"related", "user"}},
			{in: slog.String(NodeIDKey, "node"), group: []string{"service", "node", "name"}},
			{in: slog.String(ErrorKey, "boom"), group: []string{"error", "message"}},
			{in: slog.String(traceID, "0102"), group: []string{"trace", "id"}},
			{in: slog.String(spanID, "01"), group: []string{"span", "id"}},
		}
		for _, tc := range testCases {
			a := ecsAttrs(nil, tc.in)
			for _, key := range tc.group[:len(tc.group)-1] {
				require.Equal(t, key, a.Key)
				require.Equal(t, slog.KindGroup, a.Value.Kind())
				a = a.Value.Group()[0]
			}
			require.Equal(t, tc.group[len(tc.group)-1], a.Key)
			require.Equal(t, tc.in.Value.String(), a.Value.String())
		}
	})

	t.Run("message", func(t *testing.T) {
		require.True(t, slog.String("message", "hello").Equal(ecsAttrs(nil, slog.String(slog.MessageKey, "hello"))))
	})

	t.Run("attributes inside group are not renamed", func(t *testing.T) {
		a := TxAddress(testAddress)
		require.True(t, a.Equal(ecsAttrs([]string{"offer"}, a)))
	})

	t.Run("data", func(t *testing.T) {
		a := ecsAttrs(nil, Data(&types.Offer{}))
		require.Equal(t, DataKey, a.Key)
		require.Equal(t, "types_Offer", a.Value.Group()[0].Key)

		a = ecsAttrs(nil, Data(42))
		require.Equal(t, "Int64", a.Value.Group()[0].Key)
	})
}

func Test_typeName(t *testing.T) {
	type myData struct{ v int }
	var testCases = []struct {
		value slog.Value
		name  string
	}{
		{value: slog.BoolValue(true), name: "Bool"},
		{value: slog.Float64Value(1.5), name: "Float64"},
		{value: slog.StringValue("foo"), name: "String"},
		{value: slog.DurationValue(time.Second), name: "Duration"},
		{value: slog.AnyValue("hi"), name: "String"},
		{value: slog.AnyValue(myData{42}), name: "logger_myData"},
		{value: slog.AnyValue(&myData{42}), name: "logger_myData"},
		{value: slog.AnyValue(&types.Offer{}), name: "types_Offer"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.name, typeName(tc.value), "%#v", tc.value.Any())
	}
}

func Test_funcName(t *testing.T) {
	require.Equal(t, "newBaseCmd.func1", funcName("github.com/mutualcredit/mcledger/cli/mcledger/cmd.newBaseCmd.func1"))
	require.Equal(t, "main", funcName("main"))
}
