// Package chunker splits lesson text into embedding-sized chunks along
// sentence boundaries, with a small sentence overlap between neighbours so
// context survives the cut.
package chunker

import (
	"regexp"
	"strings"
)

// Chunk is one piece of a split text. StartChar/EndChar are offsets into the
// whitespace-normalized text, not the raw input.
type Chunk struct {
	Content   string
	Index     int
	StartChar int
	EndChar   int
}

// Options control chunk sizing, in characters. Zero values take the package
// defaults; out-of-range values are clamped, never rejected.
type Options struct {
	TargetSize int
	Overlap    int
	MinSize    int
	MaxSize    int
}

const (
	DefaultTargetSize = 250
	DefaultOverlap    = 50
	DefaultMinSize    = 50
	DefaultMaxSize    = 400
)

func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		Overlap:    DefaultOverlap,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
	}
}

func (o Options) withDefaults() Options {
	if o.TargetSize <= 0 {
		o.TargetSize = DefaultTargetSize
	}
	if o.TargetSize < 100 {
		o.TargetSize = 100
	}
	if o.TargetSize > 2000 {
		o.TargetSize = 2000
	}
	if o.Overlap == 0 {
		o.Overlap = DefaultOverlap
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap > o.TargetSize/2 {
		o.Overlap = o.TargetSize / 2
	}
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.MinSize < 50 {
		o.MinSize = 50
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.MaxSize < o.TargetSize {
		o.MaxSize = o.TargetSize * 3 / 2
	}
	return o
}

var whitespaceRe = regexp.MustCompile(`\s+`)

type sentencePos struct {
	start int
	end   int
	text  string
}

// Split breaks text into chunks. It is deterministic: the same text and
// options always yield the same chunks. Chunks are greedily filled with whole
// sentences toward TargetSize, capped at MaxSize; a sentence that alone
// exceeds MaxSize is emitted as its own chunk and carries no overlap into the
// next one. When more than one chunk is produced, chunks shorter than MinSize
// are dropped and indices recompacted to stay dense.
func Split(text string, opts Options) []Chunk {
	opts = opts.withDefaults()
	var chunks []Chunk

	if strings.TrimSpace(text) == "" {
		return chunks
	}

	normalized := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))

	if len(normalized) <= opts.MinSize {
		return []Chunk{{
			Content:   normalized,
			Index:     0,
			StartChar: 0,
			EndChar:   len(normalized),
		}}
	}

	sentences := scanSentences(normalized)
	if len(sentences) == 0 {
		sentences = []sentencePos{{start: 0, end: len(normalized), text: normalized}}
	}

	var (
		current      string
		currentStart int
		index        int
		inChunk      []sentencePos
	)

	emit := func() {
		chunks = append(chunks, Chunk{
			Content:   strings.TrimSpace(current),
			Index:     index,
			StartChar: currentStart,
			EndChar:   inChunk[len(inChunk)-1].end,
		})
		index++
	}

	restartWithOverlap := func(si sentencePos) {
		tail := overlapTail(inChunk, opts.Overlap)
		currentStart = tail[0].start
		parts := make([]string, 0, len(tail)+1)
		for _, t := range tail {
			parts = append(parts, t.text)
		}
		parts = append(parts, si.text)
		current = strings.Join(parts, " ")
		inChunk = append(append([]sentencePos{}, tail...), si)
	}

	for _, si := range sentences {
		sentence := si.text
		withSpace := sentence
		if len(current) > 0 {
			withSpace = " " + sentence
		}
		newLen := len(current) + len(withSpace)

		switch {
		case newLen > opts.MaxSize && len(current) > 0:
			// Never emit a sub-minimum chunk just to respect the cap.
			if len(current) < opts.MinSize {
				current += withSpace
				inChunk = append(inChunk, si)
				continue
			}
			emit()
			restartWithOverlap(si)

		case len(sentence) > opts.MaxSize:
			if len(current) > 0 {
				emit()
			}
			chunks = append(chunks, Chunk{
				Content:   sentence,
				Index:     index,
				StartChar: si.start,
				EndChar:   si.end,
			})
			index++
			current = ""
			inChunk = nil

		case newLen > opts.TargetSize && len(current) >= opts.MinSize:
			emit()
			restartWithOverlap(si)

		default:
			if len(current) == 0 {
				currentStart = si.start
			}
			current += withSpace
			inChunk = append(inChunk, si)
		}
	}

	if strings.TrimSpace(current) != "" {
		end := len(normalized)
		if len(inChunk) > 0 {
			end = inChunk[len(inChunk)-1].end
		}
		chunks = append(chunks, Chunk{
			Content:   strings.TrimSpace(current),
			Index:     index,
			StartChar: currentStart,
			EndChar:   end,
		})
	}

	if len(chunks) > 1 {
		kept := chunks[:0]
		for _, c := range chunks {
			if len(c.Content) >= opts.MinSize {
				kept = append(kept, c)
			}
		}
		chunks = kept
		for i := range chunks {
			chunks[i].Index = i
		}
	}

	return chunks
}

// scanSentences finds sentences terminated by '.', '!' or '?' followed by a
// space or end of text. Trailing text without a terminator yields no sentence;
// when the whole text has none, the caller treats it as a single sentence.
func scanSentences(text string) []sentencePos {
	var out []sentencePos
	n := len(text)
	i := 0
	for i < n {
		found := -1
		for j := i; j < n; j++ {
			c := text[j]
			if (c == '.' || c == '!' || c == '?') && (j+1 >= n || text[j+1] == ' ') && j > i {
				found = j
				break
			}
		}
		if found < 0 {
			break
		}
		end := found + 1
		for end < n && text[end] == ' ' {
			end++
		}
		out = append(out, sentencePos{
			start: i,
			end:   end,
			text:  strings.TrimSpace(text[i:end]),
		})
		i = end
	}
	return out
}

// overlapTail picks the trailing 1-2 sentences of a finished chunk to seed
// the next one, staying within overlap characters where possible. A chunk
// always contributes at least its final sentence even when that sentence
// alone exceeds the budget.
func overlapTail(sentences []sentencePos, overlap int) []sentencePos {
	if len(sentences) == 0 {
		return nil
	}
	var result []sentencePos
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		s := sentences[i]
		l := len(s.text)
		if len(result) > 0 {
			l++
		}
		if total+l <= overlap && len(result) < 2 {
			result = append([]sentencePos{s}, result...)
			total += l
		} else {
			break
		}
	}
	if len(result) == 0 {
		return []sentencePos{sentences[len(sentences)-1]}
	}
	return result
}
