package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() Message {
	return Message{
		ProcessID: "process-P",
		Data:      "ping",
		Owner:     "owner-1",
		Tags: []Tag{
			{Name: "Action", Value: "Ping"},
			{Name: "Type", Value: "Message"},
		},
	}
}

func TestMessageIDDeterminism(t *testing.T) {
	id1, err := MessageID(testMessage())
	require.NoError(t, err)
	id2, err := MessageID(testMessage())
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "MessageID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
}

func TestMessageIDIgnoresAssignedID(t *testing.T) {
	m := testMessage()
	withID := m
	withID.ID = "assigned-upstream"

	assert.Equal(t, MustMessageID(m), MustMessageID(withID))
}

func TestMessageIDChangesWithContent(t *testing.T) {
	base := testMessage()

	otherProcess := base
	otherProcess.ProcessID = "process-Q"

	otherData := base
	otherData.Data = "pong"

	reordered := base
	reordered.Tags = []Tag{base.Tags[1], base.Tags[0]}

	stamped := base
	stamped.Timestamp = 1700000000000

	id := MustMessageID(base)
	assert.NotEqual(t, id, MustMessageID(otherProcess), "process id is part of identity")
	assert.NotEqual(t, id, MustMessageID(otherData), "data is part of identity")
	assert.NotEqual(t, id, MustMessageID(reordered), "tag order is part of identity")
	assert.NotEqual(t, id, MustMessageID(stamped), "timestamp is part of identity when present")
}

func TestWithIDKeepsExistingID(t *testing.T) {
	m := testMessage()
	m.ID = "m1"

	got, err := WithID(m)
	require.NoError(t, err)
	assert.Equal(t, "m1", got.ID)

	m.ID = ""
	got, err = WithID(m)
	require.NoError(t, err)
	assert.Equal(t, MustMessageID(m), got.ID)
}

func TestTxIDDeterminism(t *testing.T) {
	id1, err := TxID("P", "m1", 1, "chain")
	require.NoError(t, err)
	id2, err := TxID("P", "m1", 1, "chain")
	require.NoError(t, err)
	id3, err := TxID("P", "m1", 2, "chain")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3, "nonce is part of tx identity")
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t,
		hashWithDomain(DomainMessage, data),
		hashWithDomain(DomainTx, data),
		"same data under different domains must not collide")
}

func TestInteractionPayloadIncludesID(t *testing.T) {
	m := testMessage()
	m.ID = "m1"
	p1, err := InteractionPayload(m)
	require.NoError(t, err)

	m.ID = "m2"
	p2, err := InteractionPayload(m)
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.NotEqual(t, InteractionID(p1, "sig"), InteractionID(p2, "sig"))
}
