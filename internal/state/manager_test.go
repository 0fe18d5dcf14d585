package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpane/termhost/internal/shared/id"
	"github.com/openpane/termhost/internal/terminal"
)

func sess(sid string, slot int, name string) terminal.SessionInfo {
	return terminal.SessionInfo{
		ID:          id.SessionID(sid),
		SlotNumber:  slot,
		DisplayName: name,
	}
}

func TestRefresh_ElectsFirstWhenNoneActive(t *testing.T) {
	m := NewManager(5, nil)

	snap := m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "Terminal 1"),
		sess("sess_b", 2, "Terminal 2"),
	})

	assert.Equal(t, id.SessionID("sess_a"), snap.ActiveID)
	require.Len(t, snap.Sessions, 2)
	assert.True(t, snap.Sessions[0].IsActive)
	assert.False(t, snap.Sessions[1].IsActive)
}

func TestRefresh_ClearsDanglingActive(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{sess("sess_a", 1, "Terminal 1")})
	require.Equal(t, id.SessionID("sess_a"), m.ActiveID())

	snap := m.Refresh(nil)

	assert.Empty(t, snap.ActiveID)
	assert.Empty(t, snap.Sessions)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, snap.AvailableSlots)
}

func TestRefresh_ActiveSurvivesWhenStillPresent(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "Terminal 1"),
		sess("sess_b", 2, "Terminal 2"),
	})
	_, err := m.SetActive("sess_b")
	require.NoError(t, err)

	snap := m.Refresh([]terminal.SessionInfo{
		sess("sess_b", 2, "Terminal 2"),
		sess("sess_c", 1, "Terminal 1"),
	})

	assert.Equal(t, id.SessionID("sess_b"), snap.ActiveID)
}

func TestRefresh_DestroyingActiveElectsFirstRemaining(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "A"),
		sess("sess_b", 2, "B"),
	})
	require.Equal(t, id.SessionID("sess_a"), m.ActiveID())

	snap := m.Refresh([]terminal.SessionInfo{sess("sess_b", 2, "B")})

	assert.Equal(t, id.SessionID("sess_b"), snap.ActiveID)
}

func TestSetActive_Unknown(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{sess("sess_a", 1, "A")})

	_, err := m.SetActive("sess_nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, id.SessionID("sess_a"), m.ActiveID())
}

func TestSnapshot_AtMostOneActive(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "A"),
		sess("sess_b", 2, "B"),
		sess("sess_c", 3, "C"),
	})
	_, err := m.SetActive("sess_c")
	require.NoError(t, err)

	snap := m.Snapshot()
	active := 0
	for _, e := range snap.Sessions {
		if e.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestValidateCreate(t *testing.T) {
	m := NewManager(2, nil)
	require.NoError(t, m.ValidateCreate())

	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "A"),
		sess("sess_b", 2, "B"),
	})
	assert.ErrorIs(t, m.ValidateCreate(), ErrLimitReached)
}

func TestValidateDestroy(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{sess("sess_a", 1, "A")})

	assert.NoError(t, m.ValidateDestroy("sess_a"))
	assert.ErrorIs(t, m.ValidateDestroy("sess_z"), ErrNotFound)
}

func TestHealth_DuplicateNames(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "Terminal 1"),
		sess("sess_b", 2, "Terminal 1"),
	})

	warnings := m.Health()
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "duplicate display name")
}

func TestHealth_CleanState(t *testing.T) {
	m := NewManager(5, nil)
	m.Refresh([]terminal.SessionInfo{sess("sess_a", 1, "A")})

	assert.Empty(t, m.Health())
}

func TestOnChange_FiresWithSnapshot(t *testing.T) {
	m := NewManager(5, nil)

	var got []Snapshot
	m.SetOnChange(func(s Snapshot) { got = append(got, s) })

	m.Refresh([]terminal.SessionInfo{sess("sess_a", 1, "A")})
	_, err := m.SetActive("sess_a")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, id.SessionID("sess_a"), got[1].ActiveID)
}

func TestSnapshot_AvailableSlots(t *testing.T) {
	m := NewManager(4, nil)
	m.Refresh([]terminal.SessionInfo{
		sess("sess_a", 1, "A"),
		sess("sess_c", 3, "C"),
	})

	snap := m.Snapshot()
	assert.Equal(t, []int{2, 4}, snap.AvailableSlots)
}
