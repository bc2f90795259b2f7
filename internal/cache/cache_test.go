package cache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyhub/internal/model"
	"notifyhub/internal/repository"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	require.NoError(t, err)
	return id
}

func TestFilterFingerprintDeterministic(t *testing.T) {
	status := model.DeliveryRead
	channel := model.ChannelEmail
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := repository.ListFilter{Status: &status, Channel: &channel, Type: "billing", StartDate: &start}
	b := repository.ListFilter{Type: "billing", StartDate: &start, Channel: &channel, Status: &status}

	assert.Equal(t, FilterFingerprint(a), FilterFingerprint(b),
		"field assembly order must not change the fingerprint")
}

func TestFilterFingerprintIgnoresZeroFields(t *testing.T) {
	status := model.DeliverySent

	withZeroes := repository.ListFilter{Status: &status, Type: "", SortBy: ""}
	bare := repository.ListFilter{Status: &status}

	assert.Equal(t, FilterFingerprint(bare), FilterFingerprint(withZeroes))
}

func TestFilterFingerprintDistinguishesFilters(t *testing.T) {
	read := model.DeliveryRead
	sent := model.DeliverySent

	a := FilterFingerprint(repository.ListFilter{Status: &read})
	b := FilterFingerprint(repository.ListFilter{Status: &sent})
	empty := FilterFingerprint(repository.ListFilter{})

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, empty)
}

func TestFilterFingerprintNormalizesTimezones(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("UTC+2", 2*3600))

	a := FilterFingerprint(repository.ListFilter{StartDate: &utc})
	b := FilterFingerprint(repository.ListFilter{StartDate: &offset})

	assert.Equal(t, a, b, "the same instant must fingerprint identically")
}

func TestHistoryKeyShape(t *testing.T) {
	// Keys embed recipient, page, limit and fingerprint so invalidation can
	// sweep them with a single recipient-scoped pattern.
	recipient := mustUUID(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	key := historyKey(recipient, 2, 50, "abcd1234")
	assert.Equal(t, "notifications:history:6ba7b810-9dad-11d1-80b4-00c04fd430c8:2:50:abcd1234", key)

	assert.Equal(t, "notifications:unread:6ba7b810-9dad-11d1-80b4-00c04fd430c8", unreadKey(recipient))
}
