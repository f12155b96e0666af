package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/config"
)

func testMatchingConfig() config.MatchingConfig {
	return config.MatchingConfig{
		MinSupply:         1,
		AgeWeight:         1.5,
		LanguageWeight:    0.6,
		DistanceWeight:    0.1,
		DefaultLearnerAge: 20,
		DefaultTeacherAge: 25,
		MissingDistanceKm: 10000,
	}
}

func TestLanguageMismatchIdenticalSets(t *testing.T) {
	assert.Equal(t, 0.0, languageMismatchPercent([]string{"en", "fr"}, []string{"fr", "en"}))
}

func TestLanguageMismatchDisjointSets(t *testing.T) {
	assert.Equal(t, 100.0, languageMismatchPercent([]string{"en"}, []string{"fr"}))
}

func TestLanguageMismatchBothEmpty(t *testing.T) {
	assert.Equal(t, 100.0, languageMismatchPercent(nil, nil))
}

func TestLanguageMismatchOneEmpty(t *testing.T) {
	assert.Equal(t, 100.0, languageMismatchPercent([]string{"en"}, nil))
}

func TestLanguageMismatchPartialOverlap(t *testing.T) {
	// |A∩B|=1, |A|+|B|=4 → 100 - 200/4 = 50
	assert.InDelta(t, 50.0, languageMismatchPercent([]string{"en", "fr"}, []string{"en", "de"}), 1e-9)
}

func TestLanguageMismatchIgnoresDuplicates(t *testing.T) {
	assert.Equal(t, 0.0, languageMismatchPercent([]string{"en", "en"}, []string{"en"}))
}

func TestLanguageMismatchStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []string{"en", "fr", "de", "es", "hi", "zh", "ar", "pt"}
	for i := 0; i < 500; i++ {
		a := randomSubset(rng, pool)
		b := randomSubset(rng, pool)
		got := languageMismatchPercent(a, b)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 100.0)
		assert.Equal(t, got, languageMismatchPercent(b, a), "mismatch must be symmetric")
	}
}

func randomSubset(rng *rand.Rand, pool []string) []string {
	var out []string
	for _, id := range pool {
		if rng.Intn(2) == 0 {
			out = append(out, id)
		}
	}
	return out
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	assert.InDelta(t, 0, haversineKm(48.85, 2.35, 48.85, 2.35), 1e-9)
}

func TestHaversineParisToLondon(t *testing.T) {
	// Roughly 344 km between the city centres.
	got := haversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 344, got, 10)
}

func TestMatchScorePerfectPair(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dob := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	lat, lon := 48.85, 2.35
	learner := &models.User{DateOfBirth: &dob, KnownLanguageIDs: []string{"en"}, Latitude: &lat, Longitude: &lon}
	teacher := &models.User{DateOfBirth: &dob, KnownLanguageIDs: []string{"en"}, Latitude: &lat, Longitude: &lon}

	assert.InDelta(t, 100, matchScore(testMatchingConfig(), learner, teacher, now), 1e-9)
}

func TestMatchScoreUsesDefaultsWhenProfileIsBare(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	learner := &models.User{}
	teacher := &models.User{}

	// Ages default to 20 and 25, languages fully mismatch, distance is the
	// missing-coordinates penalty.
	want := 100 - 1.5*5 - 0.6*100 - 0.1*10000
	assert.InDelta(t, want, matchScore(testMatchingConfig(), learner, teacher, now), 1e-9)
}

func TestMatchScoreDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dobL := time.Date(2003, 3, 10, 0, 0, 0, 0, time.UTC)
	dobT := time.Date(1990, 8, 21, 0, 0, 0, 0, time.UTC)
	latL, lonL := 19.07, 72.87
	latT, lonT := 28.61, 77.20
	learner := &models.User{DateOfBirth: &dobL, KnownLanguageIDs: []string{"hi", "en"}, Latitude: &latL, Longitude: &lonL}
	teacher := &models.User{DateOfBirth: &dobT, KnownLanguageIDs: []string{"en"}, Latitude: &latT, Longitude: &lonT}

	first := matchScore(testMatchingConfig(), learner, teacher, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, matchScore(testMatchingConfig(), learner, teacher, now))
	}
}

func TestMatchScorePrefersCloserAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dobL := time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)
	dobNear := time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)
	dobFar := time.Date(1975, 1, 1, 0, 0, 0, 0, time.UTC)
	learner := &models.User{DateOfBirth: &dobL, KnownLanguageIDs: []string{"en"}}
	near := &models.User{DateOfBirth: &dobNear, KnownLanguageIDs: []string{"en"}}
	far := &models.User{DateOfBirth: &dobFar, KnownLanguageIDs: []string{"en"}}

	cfg := testMatchingConfig()
	assert.Greater(t, matchScore(cfg, learner, near, now), matchScore(cfg, learner, far, now))
}
