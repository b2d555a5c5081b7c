package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memberWithClaims(claims ...Claim) *Member {
	m := newMember(testPatient("p1", "female", "1960-01-01"))
	m.Claims = claims
	return m
}

func TestFindQualifyingEvidenceBCS(t *testing.T) {
	bcs, err := lookupMeasure("BCS")
	require.NoError(t, err)

	tests := []struct {
		name  string
		claim Claim
		want  bool
	}{
		{"mammogram 10 months ago", serviceClaim("c1", "77067", "2024-08-30"), true},
		{"mammogram 28 months ago", serviceClaim("c1", "77067", "2023-02-28"), false},
		{"first day of the 27 month window", serviceClaim("c1", "77067", "2023-03-30"), true},
		{"day before the window", serviceClaim("c1", "77067", "2023-03-29"), false},
		{"on the measurement end", serviceClaim("c1", "77067", "2025-06-30"), true},
		{"after the measurement end", serviceClaim("c1", "77067", "2025-07-01"), false},
		{"non mammography code", serviceClaim("c1", "99213", "2025-01-01"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, evidence := findQualifyingEvidence(memberWithClaims(tt.claim), bcs, testEnd)
			assert.Equal(t, tt.want, found)
			if tt.want {
				require.Len(t, evidence, 1)
				assert.Equal(t, "Mammography", evidence[0].Type)
				assert.Equal(t, "c1", evidence[0].ClaimID)
			}
		})
	}
}

func TestFindQualifyingEvidenceCOLPerSetLookback(t *testing.T) {
	col, err := lookupMeasure("COL")
	require.NoError(t, err)

	// A colonoscopy nine years back qualifies on its own ten year window
	found, evidence := findQualifyingEvidence(memberWithClaims(serviceClaim("c1", "45378", "2016-06-30")), col, testEnd)
	assert.True(t, found)
	require.Len(t, evidence, 1)
	assert.Equal(t, "Colonoscopy", evidence[0].Type)

	// A FIT two years back is outside its one year window
	found, _ = findQualifyingEvidence(memberWithClaims(serviceClaim("c2", "82270", "2023-06-30")), col, testEnd)
	assert.False(t, found)

	found, evidence = findQualifyingEvidence(memberWithClaims(serviceClaim("c3", "81528", "2025-01-15")), col, testEnd)
	assert.True(t, found)
	assert.Equal(t, "FIT-DNA", evidence[0].Type)
}

func TestFindQualifyingEvidenceDates(t *testing.T) {
	bcs, err := lookupMeasure("BCS")
	require.NoError(t, err)

	t.Run("created date used when nothing else is present", func(t *testing.T) {
		claim := Claim{
			Id:      "c1",
			Created: testDate("2025-03-01T10:00:00+05:00"),
			Item:    []ClaimItem{{ProductOrService: codeable("77066")}},
		}
		found, evidence := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.True(t, found)
		assert.Equal(t, "2025-03-01T10:00:00+05:00", evidence[0].Date)
		assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), evidence[0].EffectiveDate)
	})

	t.Run("line date wins over the billable period", func(t *testing.T) {
		claim := Claim{
			Id:             "c1",
			BillablePeriod: Period{Start: testDate("2020-01-01")},
			Item: []ClaimItem{
				{ProductOrService: codeable("77066"), ServicedDate: testDate("2025-02-01")},
			},
		}
		found, _ := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.True(t, found)
	})

	t.Run("billable period used before created", func(t *testing.T) {
		claim := Claim{
			Id:             "c1",
			Created:        testDate("2025-02-01"),
			BillablePeriod: Period{Start: testDate("2020-01-01")},
			Item:           []ClaimItem{{ProductOrService: codeable("77066")}},
		}
		found, _ := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.False(t, found)
	})

	t.Run("service later on the end date counts", func(t *testing.T) {
		claim := serviceClaim("c1", "77067", "2025-06-30T10:00:00")
		found, evidence := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.True(t, found)
		require.Len(t, evidence, 1)
		assert.Equal(t, "2025-06-30T10:00:00", evidence[0].Date)
	})

	t.Run("offset is stripped before comparing", func(t *testing.T) {
		// Wall clock 2025-06-30 23:00 is still the end date
		claim := serviceClaim("c1", "77067", "2025-06-30T23:00:00-04:00")
		found, _ := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.True(t, found)

		// Past the end date on the wall clock, even though it is 2025-06-30 in UTC
		claim = serviceClaim("c2", "77067", "2025-07-01T01:00:00+05:00")
		found, _ = findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.False(t, found)
	})

	t.Run("malformed date is skipped", func(t *testing.T) {
		claim := Claim{
			Id:      "c1",
			Created: testDate("2025-03-01"),
			Item: []ClaimItem{
				{ProductOrService: codeable("77067"), ServicedDate: Date{Raw: "03/01/2025"}},
			},
		}
		found, evidence := findQualifyingEvidence(memberWithClaims(claim), bcs, testEnd)
		assert.False(t, found)
		assert.Empty(t, evidence)
	})
}

func TestFindQualifyingEvidenceFiltersAndOrders(t *testing.T) {
	bcs, err := lookupMeasure("BCS")
	require.NoError(t, err)

	cancelled := serviceClaim("c0", "77067", "2025-05-01")
	cancelled.Status = "cancelled"

	repeated := serviceClaim("c2", "77067", "2024-01-10")
	repeated.Item = append(repeated.Item, ClaimItem{
		Sequence:         2,
		ProductOrService: codeable("77067"),
		ServicedDate:     testDate("2024-01-11"),
	})

	m := memberWithClaims(
		cancelled,
		serviceClaim("c1", "77065", "2023-12-01"),
		repeated,
		serviceClaim("c3", "77063", "2025-04-01"),
	)

	found, evidence := findQualifyingEvidence(m, bcs, testEnd)
	require.True(t, found)
	require.Len(t, evidence, 3)

	assert.Equal(t, "c3", evidence[0].ClaimID)
	assert.Equal(t, "c2", evidence[1].ClaimID)
	assert.Equal(t, "c1", evidence[2].ClaimID)
}

func TestFindQualifyingEvidenceNoClaims(t *testing.T) {
	cdc, err := lookupMeasure("CDC")
	require.NoError(t, err)

	found, evidence := findQualifyingEvidence(memberWithClaims(), cdc, testEnd)
	assert.False(t, found)
	assert.Empty(t, evidence)
}
