package recorder

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/holocore/holod/internal/ibus"
	"github.com/holocore/holod/internal/northbound"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ibusEnvelope is how a caller records an ibus.Msg: ibus.Msg is an
// interface, so a bare json.Marshal of the payload would lose which
// concrete type it was. Recording code tags it with the message's Topic.
type ibusEnvelope struct {
	Topic ibus.Topic      `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func recordIbus(t *testing.T, r *Recorder, msg ibus.Msg) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, r.Record(KindIbus, ibusEnvelope{Topic: msg.Topic(), Data: data}))
}

// replayableCounter is a minimal deterministic state machine standing in
// for an instance's internal state: it accumulates a running MTU total
// from every InterfaceUpd it sees and appends every interface name it
// observed, in order. Its whole point is to be simple enough that running
// it twice — once "live" while recording, once fed from the replay log —
// is a faithful test of "same input sequence, same output sequence"
// without needing the full per-instance runtime.
type replayableCounter struct {
	totalMTU int
	names    []string
}

func (c *replayableCounter) apply(ev Event) error {
	if ev.Kind != KindIbus {
		return nil
	}
	var env ibusEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return err
	}
	if env.Topic != ibus.TopicInterface {
		return nil
	}
	var upd ibus.InterfaceUpd
	if err := json.Unmarshal(env.Data, &upd); err != nil {
		return err
	}
	c.totalMTU += upd.MTU
	c.names = append(c.names, upd.IfName)
	return nil
}

// TestReplayEquivalence covers scenario S6: a recorded log replayed into
// a fresh state machine reproduces byte-identical derived output.
func TestReplayEquivalence(t *testing.T) {
	dir := t.TempDir()
	key := northbound.InstanceKey{Protocol: "ifmgr", Name: "default"}

	rec, err := Open(dir, key)
	require.NoError(t, err)

	live := &replayableCounter{}
	inputs := []ibus.InterfaceUpd{
		{IfName: "eth0", IfIndex: 1, MTU: 1500, Flags: ibus.IfUp},
		{IfName: "eth1", IfIndex: 2, MTU: 9000, Flags: ibus.IfUp},
		{IfName: "eth2", IfIndex: 3, MTU: 1280, Flags: ibus.IfUp | ibus.IfBroadcast},
	}
	for _, in := range inputs {
		recordIbus(t, rec, in)
		require.NoError(t, live.apply(Event{Kind: KindIbus, Payload: mustEnvelope(t, in)}))
	}
	require.NoError(t, rec.Close())

	path := filepath.Join(dir, "ifmgr-default.jsonl")
	replayed := &replayableCounter{}
	require.NoError(t, ReplayFile(path, replayed.apply))

	assert.Equal(t, live.totalMTU, replayed.totalMTU)
	assert.Equal(t, live.names, replayed.names)
	assert.Equal(t, 1500+9000+1280, replayed.totalMTU)
	assert.Equal(t, []string{"eth0", "eth1", "eth2"}, replayed.names)
}

func mustEnvelope(t *testing.T, msg ibus.Msg) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	env := ibusEnvelope{Topic: msg.Topic(), Data: data}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func TestReplayStopsOnFirstHandlerError(t *testing.T) {
	dir := t.TempDir()
	key := northbound.InstanceKey{Protocol: "bfdmgr", Name: "default"}

	rec, err := Open(dir, key)
	require.NoError(t, err)
	recordIbus(t, rec, ibus.InterfaceUpd{IfName: "eth0", MTU: 1500})
	recordIbus(t, rec, ibus.InterfaceUpd{IfName: "eth1", MTU: 9000})
	require.NoError(t, rec.Close())

	path := filepath.Join(dir, "bfdmgr-default.jsonl")
	count := 0
	err = ReplayFile(path, func(Event) error {
		count++
		if count == 1 {
			return assert.AnError
		}
		return nil
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, count)
}
