// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

// Chunk is one time slice of the source video.
type Chunk struct {
	Index int
	Path  string
	// Start and End are offsets in whole seconds on the original timeline.
	Start int
	End   int
}

// Plan assigns time ranges to ordered chunk paths. The last chunk ends at
// totalSeconds when known (> 0), otherwise at (i+1)*chunkSeconds.
func Plan(paths []string, chunkSeconds int, totalSeconds float64) []Chunk {
	chunks := make([]Chunk, len(paths))
	for i, p := range paths {
		start := i * chunkSeconds
		end := start + chunkSeconds
		if i == len(paths)-1 && totalSeconds > 0 {
			if t := int(totalSeconds + 0.5); t > start && t < end {
				end = t
			}
		}
		chunks[i] = Chunk{Index: i, Path: p, Start: start, End: end}
	}
	return chunks
}
