package bfdmgr

import (
	"errors"
	"testing"

	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/northbound"
	"github.com/holocore/holod/internal/yang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(t *testing.T) *yang.SchemaContext {
	t.Helper()
	schema, err := yang.Load(Module)
	require.NoError(t, err)
	return schema
}

func sessionChange(disc string) northbound.ConfigChange {
	return northbound.ConfigChange{
		Key:      northbound.CallbackKey{Path: "/bfd/session", Op: northbound.OpCreate},
		ListKeys: []string{disc},
		Op:       northbound.OpCreate,
	}
}

// TestPrepareFailureReleasesNoResourceAndReportsError covers half of S3:
// a prepare that fails to bind never returns a Resource, so there is
// nothing for the engine to abort for that change.
func TestPrepareFailureReleasesNoResourceAndReportsError(t *testing.T) {
	p := New(func(disc string) error {
		if disc == "2" {
			return errors.New("address already in use")
		}
		return nil
	}, nil)

	res, err := p.createSession(northbound.PhasePrepare, northbound.CallbackArgs{Change: sessionChange("2")})
	require.Error(t, err)
	assert.Nil(t, res)

	var prepErr *northbound.PrepareFailedError
	require.ErrorAs(t, err, &prepErr)
}

// TestPrepareSuccessThenAbortReleasesResource covers the other half of
// S3: the first (successfully prepared) session's Resource is released
// when the engine aborts it after the second session's prepare fails.
func TestPrepareSuccessThenAbortReleasesResource(t *testing.T) {
	p := New(nil, nil)

	res, err := p.createSession(northbound.PhasePrepare, northbound.CallbackArgs{Change: sessionChange("1")})
	require.NoError(t, err)
	require.NotNil(t, res)

	sock := res.(*socketResource)
	assert.False(t, sock.released)

	_, err = p.createSession(northbound.PhaseAbort, northbound.CallbackArgs{Change: sessionChange("1"), Resource: res})
	require.NoError(t, err)
	assert.True(t, sock.released)
}

func TestApplyInstallsSessionAndEmitsBfdStateUpd(t *testing.T) {
	schema := testSchema(t)
	broker := ibus.NewBroker()
	_, ch, cancel := broker.Subscribe(ibus.TopicBFD)
	defer cancel()

	p := New(nil, broker)

	candidate := yang.New(schema)
	candidate.Set("/bfd/session[discriminator='1']/min-tx-ms", 150)
	candidate.Set("/bfd/session[discriminator='1']/min-rx-ms", 150)

	_, err := p.createSession(northbound.PhaseApply, northbound.CallbackArgs{Change: sessionChange("1"), New: candidate})
	require.NoError(t, err)

	p.mu.Lock()
	st := p.sessions["1"]
	p.mu.Unlock()
	require.NotNil(t, st)
	assert.Equal(t, 150, st.minTxMs)
	assert.Equal(t, ibus.BfdStateUp, st.state)

	msg := <-ch
	upd, ok := msg.(ibus.BfdStateUpd)
	require.True(t, ok)
	assert.Equal(t, ibus.BfdStateUp, upd.State)
}

func TestGetStateListsZeroSessionsAfterNoApply(t *testing.T) {
	p := New(nil, nil)
	got, err := p.listSessions("", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestApplyEmitsSessionStateChangeNotification covers spec §6's northbound
// notification requirement: Apply must emit a fully qualified YANG
// notification tree on Provider's dedicated Notifications channel,
// independent of the BfdStateUpd event already covered by
// TestApplyInstallsSessionAndEmitsBfdStateUpd.
func TestApplyEmitsSessionStateChangeNotification(t *testing.T) {
	schema := testSchema(t)
	p := New(nil, nil)

	candidate := yang.New(schema)
	candidate.Set("/bfd/session[discriminator='1']/min-tx-ms", 150)

	_, err := p.createSession(northbound.PhaseApply, northbound.CallbackArgs{Change: sessionChange("1"), New: candidate})
	require.NoError(t, err)

	select {
	case notif := <-p.Notifications():
		disc, _ := notif.Get("/bfd/session-state-change[discriminator='1']/discriminator")
		assert.Equal(t, "1", disc)
		state, _ := notif.Get("/bfd/session-state-change[discriminator='1']/state")
		assert.Equal(t, ibus.BfdStateUp, state)
	default:
		t.Fatal("expected a notification on Provider.Notifications()")
	}
}
