package service

import (
	"math"
	"time"

	"github.com/mentorlink/mentorlink-api/internal/models"
	"github.com/mentorlink/mentorlink-api/pkg/config"
)

const earthRadiusKm = 6371.0

// matchScore rates a learner/teacher pairing. Higher is better; the score
// starts at 100 and is penalized by age gap, language mismatch and
// geographic distance. The function is deterministic for fixed inputs.
func matchScore(cfg config.MatchingConfig, learner, teacher *models.User, now time.Time) float64 {
	learnerAge := learner.AgeAt(now, cfg.DefaultLearnerAge)
	teacherAge := teacher.AgeAt(now, cfg.DefaultTeacherAge)
	ageGap := math.Abs(float64(learnerAge - teacherAge))

	mismatch := languageMismatchPercent(learner.KnownLanguageIDs, teacher.KnownLanguageIDs)
	distance := pairDistanceKm(cfg, learner, teacher)

	return 100 - cfg.AgeWeight*ageGap - cfg.LanguageWeight*mismatch - cfg.DistanceWeight*distance
}

// languageMismatchPercent measures how disjoint two language sets are on a
// 0-100 scale: 0 for identical non-empty sets, 100 for fully disjoint sets.
// Two empty sets count as fully mismatched since there is no evidence of a
// shared language.
func languageMismatchPercent(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 100
	}
	shared := 0
	for id := range setA {
		if _, ok := setB[id]; ok {
			shared++
		}
	}
	return 100 - 200*float64(shared)/float64(len(setA)+len(setB))
}

// pairDistanceKm returns the great-circle distance between two users, or
// the configured penalty distance when either side lacks coordinates.
func pairDistanceKm(cfg config.MatchingConfig, a, b *models.User) float64 {
	if !a.HasLocation() || !b.HasLocation() {
		return cfg.MissingDistanceKm
	}
	return haversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}
