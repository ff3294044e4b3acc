package fuzzy

// jaroWinkler is a standard Jaro-Winkler similarity implementation,
// hand-written because no library in the dependency set covers it (see
// DESIGN.md). Returns a value in [0, 1].
func jaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	const prefixScale = 0.1
	const maxPrefixLen = 4

	ra, rb := []rune(a), []rune(b)
	prefixLen := 0
	for prefixLen < len(ra) && prefixLen < len(rb) && prefixLen < maxPrefixLen && ra[prefixLen] == rb[prefixLen] {
		prefixLen++
	}

	return jaro + float64(prefixLen)*prefixScale*(1-jaro)
}

func jaroSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	if la == 0 && lb == 0 {
		return 1.0
	}
	if la == 0 || lb == 0 {
		return 0.0
	}

	matchDistance := la/2 - 1
	if lb/2-1 > matchDistance {
		matchDistance = lb / 2
	}
	if matchDistance < 0 {
		matchDistance = 0
	}

	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)

	matches := 0
	for i := 0; i < la; i++ {
		start := i - matchDistance
		if start < 0 {
			start = 0
		}
		end := i + matchDistance + 1
		if end > lb {
			end = lb
		}
		for j := start; j < end; j++ {
			if bMatched[j] || ra[i] != rb[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if ra[i] != rb[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-float64(transpositions))/m) / 3.0
}
