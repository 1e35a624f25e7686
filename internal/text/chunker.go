package text

import (
	"regexp"
	"strings"
)

// Piece is one chunk of normalized text. StartChar/EndChar are offsets into
// the normalized text, so adjacent pieces overlap by the configured window.
type Piece struct {
	Content    string
	Index      int
	WordCount  int
	TokenCount int
	StartChar  int
	EndChar    int
}

type Chunker struct {
	counter *TokenCounter
}

func NewChunker(counter *TokenCounter) *Chunker {
	if counter == nil {
		counter = &TokenCounter{}
	}
	return &Chunker{counter: counter}
}

type span struct {
	start, end int
}

var paraSep = regexp.MustCompile(`\n[ \t]*\n+`)

// Chunk splits text into overlapping, token-bounded pieces. Paragraphs are
// accumulated until the next one would exceed maxTokens; a paragraph that is
// itself too large is split at sentence granularity with the same logic.
// Each new buffer is seeded with the trailing overlapTokens worth of words
// from the chunk just emitted.
func (c *Chunker) Chunk(text string, maxTokens, overlapTokens int) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = 0
	}

	var units []span
	for _, p := range paragraphSpans(text) {
		if c.counter.Count(text[p.start:p.end]) > maxTokens {
			units = append(units, sentenceSpans(text, p.start, p.end)...)
		} else {
			units = append(units, p)
		}
	}

	var pieces []Piece
	bufStart := -1
	bufEnd := 0
	hasUnit := false

	emit := func() {
		content := text[bufStart:bufEnd]
		pieces = append(pieces, Piece{
			Content:    content,
			Index:      len(pieces),
			WordCount:  len(strings.Fields(content)),
			TokenCount: c.counter.Count(content),
			StartChar:  bufStart,
			EndChar:    bufEnd,
		})
	}

	for _, u := range units {
		unitTokens := c.counter.Count(text[u.start:u.end])

		if hasUnit && c.counter.Count(text[bufStart:bufEnd])+unitTokens > maxTokens {
			emit()
			bufStart = c.overlapStart(text, bufEnd, overlapTokens)
			hasUnit = false
		}
		if bufStart < 0 || (!hasUnit && overlapTokens == 0) {
			bufStart = u.start
		}
		bufEnd = u.end
		hasUnit = true
	}
	if hasUnit {
		emit()
	}

	return pieces
}

// overlapStart walks back from end over whole words until at least
// overlapTokens worth of text is covered, so the next chunk starts inside
// the tail of the previous one.
func (c *Chunker) overlapStart(text string, end, overlapTokens int) int {
	if overlapTokens <= 0 {
		return end
	}
	i := end
	tokens := 0
	for i > 0 && tokens < overlapTokens {
		j := i
		for j > 0 && isSpace(text[j-1]) {
			j--
		}
		k := j
		for k > 0 && !isSpace(text[k-1]) {
			k--
		}
		if k == j {
			break
		}
		tokens += c.counter.Count(text[k:j])
		i = k
	}
	return i
}

// SentenceCount reports the number of sentences in s.
func SentenceCount(s string) int {
	return len(sentenceSpans(s, 0, len(s)))
}

func paragraphSpans(text string) []span {
	var spans []span
	prev := 0
	seps := paraSep.FindAllStringIndex(text, -1)
	for _, sep := range seps {
		if s, ok := trimSpan(text, prev, sep[0]); ok {
			spans = append(spans, s)
		}
		prev = sep[1]
	}
	if s, ok := trimSpan(text, prev, len(text)); ok {
		spans = append(spans, s)
	}
	return spans
}

func sentenceSpans(text string, start, end int) []span {
	var spans []span
	segStart := start
	i := start
	for i < end {
		ch := text[i]
		if ch == '.' || ch == '!' || ch == '?' {
			j := i + 1
			for j < end && (text[j] == '.' || text[j] == '!' || text[j] == '?' || text[j] == '"' || text[j] == '\'' || text[j] == ')') {
				j++
			}
			if j >= end || isSpace(text[j]) {
				if s, ok := trimSpan(text, segStart, j); ok {
					spans = append(spans, s)
				}
				for j < end && isSpace(text[j]) {
					j++
				}
				segStart = j
				i = j
				continue
			}
		}
		i++
	}
	if s, ok := trimSpan(text, segStart, end); ok {
		spans = append(spans, s)
	}
	return spans
}

func trimSpan(text string, start, end int) (span, bool) {
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if start >= end {
		return span{}, false
	}
	return span{start: start, end: end}, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
