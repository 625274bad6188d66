package flow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityduty/dutybot/internal/models"
)

func TestParseSeason(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"1", 1, true},
		{"5", 5, true},
		{" 3 ", 3, true},
		{"0", 0, false},
		{"6", 0, false},
		{"three", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, err := ParseSeason(tt.input)
		if tt.ok {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, got)
		} else {
			assert.Error(t, err, "input %q", tt.input)
		}
	}
}

func TestParseStars(t *testing.T) {
	_, err := ParseStars("0")
	assert.Error(t, err)

	got, err := ParseStars("4")
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestParseDateRange(t *testing.T) {
	start, end, err := ParseDateRange("01.09.2023-05.09.2023")
	require.NoError(t, err)
	assert.Equal(t, "01.09.2023", start)
	assert.Equal(t, "05.09.2023", end)

	// Whitespace around the separator is tolerated.
	start, end, err = ParseDateRange("01.09.2023 - 05.09.2023")
	require.NoError(t, err)
	assert.Equal(t, "01.09.2023", start)
	assert.Equal(t, "05.09.2023", end)

	// A single day is a valid range.
	_, _, err = ParseDateRange("01.09.2023-01.09.2023")
	assert.NoError(t, err)
}

func TestParseDateRangeRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		"",
		"01.09.2023",
		"2023-09-01-2023-09-05",
		"32.09.2023-05.09.2023",
		"01.09.2023-garbage",
		"05.09.2023-01.09.2023", // end before start
	} {
		_, _, err := ParseDateRange(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestSessionBeginClearsDrafts(t *testing.T) {
	s := &Session{}

	s.Begin(KindRegistration, StepRole)
	s.Registration.FullName = "Anna Petrova"
	s.Registration.Role = models.RoleLeader

	// Starting another flow abandons the old draft entirely.
	s.Begin(KindNewRequest, StepRequestText)
	assert.Equal(t, KindNewRequest, s.Kind)
	assert.Equal(t, StepRequestText, s.Step)
	assert.Empty(t, s.Registration.FullName)

	s.Reset()
	assert.False(t, s.Active())
}

func TestStoreAcquireReturnsSameSession(t *testing.T) {
	st := NewStore()

	s1, release := st.Acquire(42)
	s1.Begin(KindRating, StepStars)
	s1.Rating.RequestID = 7
	release()

	s2, release := st.Acquire(42)
	defer release()
	assert.Same(t, s1, s2)
	assert.Equal(t, int64(7), s2.Rating.RequestID)
}

func TestStoreSerializesPerUser(t *testing.T) {
	st := NewStore()

	// Many goroutines bump a counter inside the same user's session; the
	// per-user lock must make the increments sequential.
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, release := st.Acquire(1)
			s.Rating.Stars++
			release()
		}()
	}
	wg.Wait()

	s, release := st.Acquire(1)
	defer release()
	assert.Equal(t, n, s.Rating.Stars)
}
