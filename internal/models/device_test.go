package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDevice_Identifier(t *testing.T) {
	d := &Device{SerialNumber: "sn-1"}
	assert.Equal(t, "sn-1", d.Identifier())

	tag := "asset-9"
	d.AssetTag = &tag
	assert.Equal(t, "asset-9", d.Identifier())

	empty := ""
	d.AssetTag = &empty
	assert.Equal(t, "sn-1", d.Identifier())
}

func TestDevice_IsAssigned(t *testing.T) {
	d := &Device{}
	assert.False(t, d.IsAssigned())

	user := "user@example.com"
	d.AssignedUser = &user
	assert.True(t, d.IsAssigned())

	empty := ""
	d.AssignedUser = &empty
	assert.False(t, d.IsAssigned())
}

func TestDevice_IsOverdue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	d := &Device{}
	assert.False(t, d.IsOverdue(now))

	due := now.Add(time.Hour)
	d.DueDate = &due
	assert.False(t, d.IsOverdue(now))

	past := now.Add(-time.Hour)
	d.DueDate = &past
	assert.True(t, d.IsOverdue(now))
}

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "abc123", NormalizeIdentifier("  ABC123 "))
	assert.Equal(t, "", NormalizeIdentifier("   "))
}

func TestShelf_Identifier(t *testing.T) {
	s := &Shelf{Location: "bldg-1/floor-2"}
	assert.Equal(t, "bldg-1/floor-2", s.Identifier())

	name := "Front Desk"
	s.FriendlyName = &name
	assert.Equal(t, "Front Desk", s.Identifier())
}

func TestShelf_Audited(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s := &Shelf{}
	assert.False(t, s.Audited(now, 24))

	recent := now.Add(-2 * time.Hour)
	s.LastAuditTime = &recent
	assert.True(t, s.Audited(now, 24))

	stale := now.Add(-25 * time.Hour)
	s.LastAuditTime = &stale
	assert.False(t, s.Audited(now, 24))
}

func TestReminderEventName(t *testing.T) {
	assert.Equal(t, "reminder_level_0", ReminderEventName(0))
	assert.Equal(t, "reminder_level_2", ReminderEventName(2))
	assert.Equal(t, "1", ReminderEventID(1))
}
