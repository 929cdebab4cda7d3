package call

import "strings"

// sentenceTerminators are the characters that may end a speakable segment.
const sentenceTerminators = ".!?:;"

// segmenter accumulates LLM token fragments and cuts them into sentence-sized
// segments for TTS. A segment is flushed when it reaches max length, or when
// it is at least min length and ends with a terminator. The trailing fragment
// at end of stream is flushed by Flush regardless of length.
type segmenter struct {
	min int
	max int
	buf strings.Builder
}

func newSegmenter(min, max int) *segmenter {
	return &segmenter{min: min, max: max}
}

// Push appends a token fragment and returns any segments that became ready.
// Most pushes return nil.
func (s *segmenter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buf.WriteString(token)

	var out []string
	for {
		seg, ok := s.cut()
		if !ok {
			break
		}
		out = append(out, seg)
	}
	return out
}

// Flush returns the remaining buffered text, trimmed, and resets the buffer.
func (s *segmenter) Flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// cut extracts one ready segment from the front of the buffer, if any.
func (s *segmenter) cut() (string, bool) {
	text := s.buf.String()
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if len(trimmed) >= s.min {
		if last := trimmed[len(trimmed)-1]; strings.IndexByte(sentenceTerminators, last) >= 0 {
			s.buf.Reset()
			return trimmed, true
		}
	}

	if len(trimmed) >= s.max {
		// Force a split. Prefer the last space so words stay intact.
		at := strings.LastIndexByte(trimmed[:s.max], ' ')
		if at <= 0 {
			at = s.max
		}
		head := strings.TrimSpace(trimmed[:at])
		rest := strings.TrimSpace(trimmed[at:])
		s.buf.Reset()
		s.buf.WriteString(rest)
		return head, true
	}

	return "", false
}
