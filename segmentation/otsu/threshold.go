package otsu

// Threshold returns the luminance level which splits the histogram into
// the two classes of maximal between-class variance. Pixels with
// luminance >= the returned level belong to the bright class.
func Threshold(bins []int) uint8 {
	var total, weightedSum float64
	for i, count := range bins {
		total += float64(count)
		weightedSum += float64(i) * float64(count)
	}
	if total == 0 {
		return 0x80
	}

	var (
		bestLevel    = -1
		bestVariance = -1.0
		bgWeight     float64
		bgSum        float64
	)
	for level, count := range bins {
		bgWeight += float64(count)
		if bgWeight == 0 {
			continue
		}
		fgWeight := total - bgWeight
		if fgWeight == 0 {
			break
		}
		bgSum += float64(level) * float64(count)
		bgMean := bgSum / bgWeight
		fgMean := (weightedSum - bgSum) / fgWeight
		diff := bgMean - fgMean
		variance := bgWeight * fgWeight * diff * diff
		if variance > bestVariance {
			bestVariance = variance
			bestLevel = level
		}
	}
	if bestLevel < 0 {
		// a single populated bin: everything is on one side
		return 0x80
	}
	if bestLevel >= 0xff {
		return 0xff
	}
	return uint8(bestLevel + 1)
}
