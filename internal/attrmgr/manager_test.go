package attrmgr

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirprov/internal/entity"
)

type fakeSource struct {
	calls atomic.Int32
	err   error
	attrs []string
}

func (f *fakeSource) ObjectClassAttributes(...string) ([]string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.attrs, nil
}

func account() *entity.Entity {
	return &entity.Entity{
		Kind:  entity.KindAccount,
		ID:    "id-1",
		Name:  "alice@example.com",
		Attrs: entity.Attrs{entity.AttrID: {"id-1"}},
	}
}

func TestPreModifyValidation(t *testing.T) {
	m := New(Options{})

	tests := []struct {
		name      string
		delta     entity.Delta
		immutable bool
		wantErr   bool
	}{
		{"plain string", entity.Delta{entity.AttrDisplayName: "Alice"}, false, false},
		{"unsupported value type", entity.Delta{entity.AttrDisplayName: 42}, false, true},
		{"empty name", entity.Delta{"": "x"}, false, true},
		{"empty name after prefix", entity.Delta{"+": "x"}, false, true},
		{"integer in range", entity.Delta{entity.AttrAutoProvBatchSize: "100"}, false, false},
		{"integer above max", entity.Delta{entity.AttrAutoProvBatchSize: "5001"}, false, true},
		{"integer below min", entity.Delta{entity.AttrAutoProvBatchSize: "0"}, false, true},
		{"integer malformed", entity.Delta{entity.AttrMailQuota: "lots"}, false, true},
		{"boolean", entity.Delta{entity.AttrIsSystemAccount: "true"}, false, false},
		{"boolean malformed", entity.Delta{entity.AttrIsSystemAccount: "yes"}, false, true},
		{"enum", entity.Delta{entity.AttrAccountStatus: "locked"}, false, false},
		{"enum case-insensitive", entity.Delta{entity.AttrAccountStatus: "ACTIVE"}, false, false},
		{"enum unknown", entity.Delta{entity.AttrAccountStatus: "frozen"}, false, true},
		{"multi-valued enum", entity.Delta{entity.AttrAutoProvMode: []string{"EAGER", "LAZY"}}, false, false},
		{"email", entity.Delta{entity.AttrMail: "alice@example.com"}, false, false},
		{"email malformed", entity.Delta{"+" + entity.AttrMailAlias: "alice"}, false, true},
		{"duration", entity.Delta{entity.AttrAutoProvPollingInterval: "15m"}, false, false},
		{"duration in days", entity.Delta{entity.AttrAutoProvPollingInterval: "1d"}, false, false},
		{"duration malformed", entity.Delta{entity.AttrAutoProvPollingInterval: "soon"}, false, true},
		{"generalized time", entity.Delta{entity.AttrAutoProvLastPolled: "20240101120000Z"}, false, false},
		{"generalized time malformed", entity.Delta{entity.AttrAutoProvLastPolled: "yesterday"}, false, true},
		{"single-valued with many values", entity.Delta{entity.AttrDisplayName: []string{"a", "b"}}, false, true},
		{"single-valued add", entity.Delta{"+" + entity.AttrDisplayName: "a"}, false, true},
		{"single-valued remove", entity.Delta{"-" + entity.AttrDisplayName: nil}, false, false},
		{"remove skips value checks", entity.Delta{"-" + entity.AttrMail: "not-an-address"}, false, false},
		{"string too long", entity.Delta{entity.AttrCN: string(make([]byte, 257))}, false, true},
		{"immutable unchecked", entity.Delta{entity.AttrID: "other"}, false, false},
		{"immutable checked", entity.Delta{entity.AttrID: "other"}, true, true},
		{"unknown attribute passes", entity.Delta{"customAttr": []string{"anything", "goes"}}, true, false},
		{"empty id", entity.Delta{entity.AttrCOSID: " "}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.PreModify(NewCallbackContext(t.Context(), false), tt.delta, account(), tt.immutable)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAttribute)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPreModifyCallbacks(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	callbacks := DefaultCallbacks(clk)

	var seen []string
	callbacks[entity.AttrDisplayName] = Funcs{
		Pre: func(cctx *CallbackContext, name string, values []string, delta entity.Delta, _ *entity.Entity) error {
			seen = append(seen, name)
			cctx.Data["displayName"] = values
			delta[entity.AttrSN] = "Derived"
			return nil
		},
	}
	callbacks[entity.AttrDescription] = Funcs{
		Pre: func(*CallbackContext, string, []string, entity.Delta, *entity.Entity) error {
			return errors.New("descriptions are frozen")
		},
	}
	m := New(Options{Callbacks: callbacks})

	t.Run("callbacks change the delta", func(t *testing.T) {
		cctx := NewCallbackContext(t.Context(), true)
		delta := entity.Delta{
			entity.AttrMail:            "Alice@Example.COM",
			"+" + entity.AttrMailAlias: []string{"AL@Example.com"},
			entity.AttrUserPassword:    "secret",
			"displayname":              "Alice",
		}

		require.NoError(t, m.PreModify(cctx, delta, account(), true))
		assert.Equal(t, "alice@example.com", delta[entity.AttrMail])
		assert.Equal(t, []string{"al@example.com"}, delta["+"+entity.AttrMailAlias])
		assert.Equal(t, "20240501100000Z", delta[entity.AttrPasswordModifiedTime])
		assert.Equal(t, "Derived", delta[entity.AttrSN])
		assert.Equal(t, []string{"displayname"}, seen, "callbacks match names case-insensitively")
		assert.Equal(t, []string{"Alice"}, cctx.Data["displayName"])
	})

	t.Run("callback error aborts", func(t *testing.T) {
		err := m.PreModify(NewCallbackContext(t.Context(), false), entity.Delta{entity.AttrDescription: "x"}, account(), true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "descriptions are frozen")
	})

	t.Run("password removal does not stamp", func(t *testing.T) {
		delta := entity.Delta{entity.AttrUserPassword: nil}
		require.NoError(t, m.PreModify(NewCallbackContext(t.Context(), false), delta, account(), true))
		assert.NotContains(t, delta, entity.AttrPasswordModifiedTime)
	})
}

func TestPostModify(t *testing.T) {
	var calls []string
	m := New(Options{Callbacks: map[string]Callback{
		entity.AttrCN: Funcs{Post: func(_ *CallbackContext, name string, _ *entity.Entity) error {
			calls = append(calls, name)
			return nil
		}},
		entity.AttrSN: Funcs{Post: func(*CallbackContext, string, *entity.Entity) error {
			return errors.New("index unavailable")
		}},
		entity.AttrDisplayName: Funcs{Post: func(*CallbackContext, string, *entity.Entity) error {
			panic("boom")
		}},
		entity.AttrMail: Funcs{},
	}})

	delta := entity.Delta{
		entity.AttrCN:          "Alice",
		entity.AttrSN:          "Smith",
		entity.AttrDisplayName: "Alice Smith",
		entity.AttrMail:        "alice@example.com",
		"untracked":            "x",
	}
	errs := m.PostModify(NewCallbackContext(t.Context(), false), delta, account())

	assert.Equal(t, []string{entity.AttrCN}, calls)
	require.Len(t, errs, 2)
	var joined []string
	for _, err := range errs {
		joined = append(joined, err.Error())
	}
	assert.Contains(t, joined, "displayName: callback panicked: boom")
	assert.Contains(t, joined, "sn: index unavailable")
}

func TestEnsureExtensions(t *testing.T) {
	source := &fakeSource{attrs: []string{"customQuota", "gwMailAlias"}}
	m := New(Options{ExtraObjectClasses: map[entity.Kind][]string{
		entity.KindAccount: {"customAccount"},
	}})

	assert.NotContains(t, m.Attributes(entity.KindAccount), "customQuota")

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			assert.NoError(t, m.EnsureExtensions(t.Context(), source))
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
	attrs := m.Attributes(entity.KindAccount)
	assert.Contains(t, attrs, "customQuota")
	assert.Contains(t, attrs, entity.AttrMailAlias)
	assert.Contains(t, attrs, entity.AttrUID)
	assert.NotContains(t, m.Attributes(entity.KindDomain), "customQuota")
	assert.Equal(t, []string{"customAccount"}, m.ExtraObjectClasses(entity.KindAccount))
}

func TestEnsureExtensionsRetriesAfterError(t *testing.T) {
	source := &fakeSource{err: errors.New("schema unavailable")}
	m := New(Options{ExtraObjectClasses: map[entity.Kind][]string{
		entity.KindDomain: {"customDomain"},
	}})

	require.Error(t, m.EnsureExtensions(t.Context(), source))

	source.err = nil
	source.attrs = []string{"customFlag"}
	require.NoError(t, m.EnsureExtensions(t.Context(), source))
	require.NoError(t, m.EnsureExtensions(t.Context(), source))

	assert.Equal(t, int32(2), source.calls.Load())
	assert.Contains(t, m.Attributes(entity.KindDomain), "customFlag")
}

func TestEnsureExtensionsWithoutClasses(t *testing.T) {
	source := &fakeSource{}
	m := New(Options{})
	require.NoError(t, m.EnsureExtensions(t.Context(), source))
	assert.Zero(t, source.calls.Load())
}

func TestAttributesSorted(t *testing.T) {
	m := New(Options{})
	attrs := m.Attributes(entity.KindMimeType)
	assert.Equal(t, []string{entity.AttrCN, entity.AttrDescription, entity.AttrID, entity.AttrMimeFileExtension, entity.AttrMimeType, entity.AttrName}, attrs)

	info, ok := m.Info("GWID")
	require.True(t, ok)
	assert.True(t, info.Immutable)
	assert.Equal(t, "id", info.Type.String())
}
