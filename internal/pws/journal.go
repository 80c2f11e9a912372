package pws

// journal is the ordered buffer of sent-but-unacknowledged outbound chunks.
// journal[0] corresponds to tailIndex; journalIndex is the index that will
// be assigned to the next outbound chunk, so tailIndex == journalIndex -
// len(chunks) always holds.
type journal struct {
	chunks       [][]byte
	journalIndex int64
}

func (j *journal) tailIndex() int64 {
	return j.journalIndex - int64(len(j.chunks))
}

func (j *journal) len() int {
	return len(j.chunks)
}

// append adds chunk as the next outbound entry and returns its index.
func (j *journal) append(chunk []byte) int64 {
	index := j.journalIndex
	j.chunks = append(j.chunks, chunk)
	j.journalIndex++
	return index
}

// pruneBefore drops every entry with index < upTo (upTo is exclusive).
func (j *journal) pruneBefore(upTo int64) {
	tail := j.tailIndex()
	if upTo <= tail {
		return
	}
	n := upTo - tail
	if n > int64(len(j.chunks)) {
		n = int64(len(j.chunks))
	}
	j.chunks = j.chunks[n:]
}

// slice returns the chunks for [start, end) by journal index, oldest first.
// The caller must have already validated start/end against tailIndex/journalIndex.
func (j *journal) slice(start, end int64) [][]byte {
	tail := j.tailIndex()
	return j.chunks[start-tail : end-tail]
}

func (j *journal) oldest() ([]byte, bool) {
	if len(j.chunks) == 0 {
		return nil, false
	}
	return j.chunks[0], true
}
