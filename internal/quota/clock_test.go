package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortunecoin/backend/internal/models"
)

func TestFixedClockAdvancesAcrossMidnight(t *testing.T) {
	c := NewFixedClock(time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, models.MustDay("2026-03-01"), c.Today())

	c.Advance(time.Hour)
	assert.Equal(t, models.MustDay("2026-03-02"), c.Today())
}

func TestReferenceTimezoneDecidesTheDay(t *testing.T) {
	ist := time.FixedZone("UTC+3", 3*60*60)

	// 22:30 UTC is already the next day at UTC+3.
	instant := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	assert.Equal(t, models.MustDay("2026-03-01"), NewFixedClock(instant, time.UTC).Today())
	assert.Equal(t, models.MustDay("2026-03-02"), NewFixedClock(instant, ist).Today())
}

func TestIsNewDay(t *testing.T) {
	c := FixedDay(models.MustDay("2026-03-02"))

	assert.True(t, IsNewDay(c, &models.Account{}), "zero quota day is always behind")
	assert.True(t, IsNewDay(c, &models.Account{QuotaDay: "2026-03-01"}))
	assert.False(t, IsNewDay(c, &models.Account{QuotaDay: "2026-03-02"}))
}

func TestNewSystemClock(t *testing.T) {
	c, err := NewSystemClock("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, c.Location())
	assert.False(t, c.Today().IsZero())

	_, err = NewSystemClock("Mars/Olympus_Mons")
	assert.Error(t, err)
}
