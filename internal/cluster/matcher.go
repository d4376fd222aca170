package cluster

import "github.com/thebtf/sitrep/pkg/models"

// matchEpsilon is the score difference below which two candidate clusters
// are considered tied.
const matchEpsilon = 1e-9

// BestMatch finds the candidate cluster with the highest similarity to the
// article, provided the score clears threshold. Candidates must be ordered
// most recently updated first; within matchEpsilon of the best score the
// earlier (fresher) candidate wins.
func BestMatch(scorer Scorer, articleID string, candidates []*models.Cluster, threshold float64) (*models.Cluster, float64, bool) {
	var best *models.Cluster
	var bestScore float64

	for _, candidate := range candidates {
		score := scorer.Score(articleID, candidate.ID)
		if best == nil || score > bestScore+matchEpsilon {
			best = candidate
			bestScore = score
		}
	}

	if best == nil || bestScore < threshold {
		return nil, 0, false
	}
	return best, bestScore, true
}
