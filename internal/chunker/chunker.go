// Package chunker decides how a batch of records is split across numbered output files.
package chunker

import (
	"strconv"

	"loki-downloader/internal/domain"
)

// Unbounded is reported as the remaining space when files have no record limit.
const Unbounded = -1

// Write is a group of records destined for a single output file.
type Write struct {
	FileNumber int
	Records    []domain.Record
}

// Filename returns the output file name for the write.
func (w Write) Filename() string {
	return Filename(w.FileNumber)
}

// Plan is the outcome of chunking one batch.
type Plan struct {
	Writes []Write
	// FileNumber is the file the next record would land in.
	FileNumber int
	// Space is how many more records fit in FileNumber, or Unbounded.
	Space int
}

// Filename returns the name of the n-th output file.
func Filename(n int) string {
	return strconv.Itoa(n) + ".txt"
}

// Apply distributes records over files starting at fileNumber, which has room for
// space more records. A new file is only opened once a record needs a home, so a
// plan never contains an empty write. perFileLimit <= 0 keeps everything in one file.
func Apply(records []domain.Record, fileNumber, space, perFileLimit int) Plan {
	if perFileLimit <= 0 {
		plan := Plan{FileNumber: fileNumber, Space: Unbounded}
		if len(records) > 0 {
			plan.Writes = []Write{{FileNumber: fileNumber, Records: records}}
		}
		return plan
	}

	if space < 0 || space > perFileLimit {
		space = perFileLimit
	}

	var writes []Write
	rest := records
	for len(rest) > 0 {
		if space == 0 {
			fileNumber++
			space = perFileLimit
		}
		n := min(space, len(rest))
		writes = append(writes, Write{FileNumber: fileNumber, Records: rest[:n]})
		rest = rest[n:]
		space -= n
	}

	return Plan{Writes: writes, FileNumber: fileNumber, Space: space}
}

// Used converts the remaining space reported by Apply back into the number of records
// already in the current file. prevUsed and added are needed for unbounded files.
func Used(space, perFileLimit, prevUsed, added int) int {
	if perFileLimit <= 0 || space == Unbounded {
		return prevUsed + added
	}
	return perFileLimit - space
}
