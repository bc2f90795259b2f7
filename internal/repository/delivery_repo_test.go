package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
)

func TestBuildListQueryDefaults(t *testing.T) {
	recipientID := uuid.New()
	query, args := buildListQuery(recipientID, ListFilter{})

	assert.Contains(t, query, "WHERE recipient_id = $1")
	assert.Contains(t, query, "archived = FALSE")
	assert.Contains(t, query, "ORDER BY created_at DESC")
	assert.Contains(t, query, "LIMIT $2")
	assert.NotContains(t, query, "OFFSET")

	require.Len(t, args, 2)
	assert.Equal(t, recipientID, args[0])
	assert.Equal(t, MaxPageSize, args[1])
}

func TestBuildListQueryClampsLimit(t *testing.T) {
	query, args := buildListQuery(uuid.New(), ListFilter{Limit: 200})
	assert.Contains(t, query, "LIMIT $2")
	assert.Equal(t, MaxPageSize, args[1])

	_, args = buildListQuery(uuid.New(), ListFilter{Limit: -5})
	assert.Equal(t, MaxPageSize, args[1])

	_, args = buildListQuery(uuid.New(), ListFilter{Limit: 20})
	assert.Equal(t, 20, args[1])
}

func TestBuildListQueryFilters(t *testing.T) {
	status := model.DeliveryRead
	channel := model.ChannelPush
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	query, args := buildListQuery(uuid.New(), ListFilter{
		Status:    &status,
		Channel:   &channel,
		Type:      "billing",
		StartDate: &start,
		EndDate:   &end,
		Limit:     10,
		Offset:    30,
	})

	assert.Contains(t, query, "status = $2")
	assert.Contains(t, query, "channel = $3")
	assert.Contains(t, query, "type = $4")
	assert.Contains(t, query, "created_at >= $5")
	assert.Contains(t, query, "created_at <= $6")
	assert.Contains(t, query, "LIMIT $7")
	assert.Contains(t, query, "OFFSET $8")

	require.Len(t, args, 8)
	assert.Equal(t, status, args[1])
	assert.Equal(t, channel, args[2])
	assert.Equal(t, "billing", args[3])
	assert.Equal(t, 10, args[6])
	assert.Equal(t, 30, args[7])
}

func TestBuildListQuerySortWhitelist(t *testing.T) {
	query, _ := buildListQuery(uuid.New(), ListFilter{SortBy: "sent_at", SortOrder: "asc"})
	assert.Contains(t, query, "ORDER BY sent_at ASC")

	// Anything outside the whitelist falls back to created_at, so filter
	// input can never reach the ORDER BY clause verbatim.
	query, _ = buildListQuery(uuid.New(), ListFilter{SortBy: "title; DROP TABLE user_notifications"})
	assert.Contains(t, query, "ORDER BY created_at DESC")
	assert.False(t, strings.Contains(query, "DROP TABLE"))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	v := nullIfEmpty("PROVIDER_TIMEOUT")
	require.NotNil(t, v)
	assert.Equal(t, "PROVIDER_TIMEOUT", *v)
}
