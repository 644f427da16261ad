package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emergencyOrder creates o-1 and submits it as an emergency, returning the
// scheduled escalation id.
func emergencyOrder(t *testing.T, db string) string {
	t.Helper()
	_, err := execute(t, "create", "--db", db, "--type", "order", "--id", "o-1", "--actor", "alice")
	require.NoError(t, err)
	out, err := execute(t, "transition", "o-1", "EmergencySubmitted", "--db", db, "--actor", "alice", "--format", "json")
	require.NoError(t, err)
	var tr TransitionOutput
	decodeResponse(t, out, &tr)
	require.NotEmpty(t, tr.Escalation)
	return tr.Escalation
}

func TestEscalationLifecycle(t *testing.T) {
	db := tempDB(t)
	id := emergencyOrder(t, db)
	run := func(args ...string) (string, error) {
		return execute(t, append(args, "--db", db, "--format", "json")...)
	}

	out, err := run("escalations")
	require.NoError(t, err)
	var items []EscalationOutput
	decodeResponse(t, out, &items)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ID)
	assert.Equal(t, "o-1", items[0].DocumentID)
	assert.Equal(t, "pending", items[0].Status)
	assert.Equal(t, "dispatcher", items[0].AssignedRole)
	assert.Equal(t, "plant_manager", items[0].EscalateToRole)

	// Acceptance waits for the escalation to close.
	out, err = run("transition", "o-1", "Accepted", "--actor", "grace")
	require.Error(t, err)
	assert.Equal(t, "FORBIDDEN", decodeResponse(t, out, nil).Error.Code)

	out, err = run("ack", id)
	require.NoError(t, err)
	var item EscalationOutput
	decodeResponse(t, out, &item)
	assert.Equal(t, "in_progress", item.Status)

	out, err = run("complete", id)
	require.NoError(t, err)
	decodeResponse(t, out, &item)
	assert.Equal(t, "completed", item.Status)

	out, err = run("complete", id)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, ErrCodeItemClosed, decodeResponse(t, out, nil).Error.Code)

	out, err = run("escalations")
	require.NoError(t, err)
	items = nil
	decodeResponse(t, out, &items)
	assert.Empty(t, items)

	out, err = run("escalations", "--document", "o-1")
	require.NoError(t, err)
	decodeResponse(t, out, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "completed", items[0].Status)

	_, err = run("transition", "o-1", "Accepted", "--actor", "grace")
	require.NoError(t, err)
}

func TestEscalation_Cancel(t *testing.T) {
	db := tempDB(t)
	id := emergencyOrder(t, db)

	out, err := execute(t, "cancel", id, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "[cancelled]")

	_, err = execute(t, "ack", id, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestEscalation_Unknown(t *testing.T) {
	out, err := execute(t, "ack", "esc-404", "--db", tempDB(t), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeNotFound, decodeResponse(t, out, nil).Error.Code)
}

func TestSweep_NothingDue(t *testing.T) {
	db := tempDB(t)
	emergencyOrder(t, db)

	out, err := execute(t, "sweep", "--db", db, "--format", "json")
	require.NoError(t, err)
	var fired []EscalationOutput
	decodeResponse(t, out, &fired)
	assert.Empty(t, fired)

	out, err = execute(t, "sweep", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "no escalation items\n", out)
}
