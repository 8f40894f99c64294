package chunker

import "unicode/utf8"

// FileClass is the result of binary/text classification.
type FileClass int

const (
	// ClassText means the content is safe to chunk and embed.
	ClassText FileClass = iota
	// ClassBinary means the content is clearly not text (NUL bytes or a
	// high ratio of invalid UTF-8).
	ClassBinary
	// ClassUnknown means classification was inconclusive; the file is
	// skipped rather than risking garbage embeddings.
	ClassUnknown
)

func (c FileClass) String() string {
	switch c {
	case ClassText:
		return "text"
	case ClassBinary:
		return "binary"
	default:
		return "unknown"
	}
}

const (
	// classifySampleSize bounds how much of the file is inspected.
	classifySampleSize = 8192
	// binaryByteRatio is the invalid-rune ratio above which content is
	// treated as binary.
	binaryByteRatio = 0.30
	// unknownByteRatio is the ratio above which content is neither
	// clearly text nor clearly binary.
	unknownByteRatio = 0.10
)

// Classify inspects up to the first 8 KiB of content and returns a
// tri-state text/binary/unknown classification. Empty content is text
// (it simply yields zero chunks).
func Classify(content []byte) FileClass {
	if len(content) == 0 {
		return ClassText
	}

	sample := content
	if len(sample) > classifySampleSize {
		sample = sample[:classifySampleSize]
	}

	invalid := 0
	total := 0
	for i := 0; i < len(sample); {
		r, size := utf8.DecodeRune(sample[i:])
		total++
		if r == 0 {
			// NUL is a strong binary signal on its own.
			return ClassBinary
		}
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		i += size
	}

	ratio := float64(invalid) / float64(total)
	switch {
	case ratio > binaryByteRatio:
		return ClassBinary
	case ratio > unknownByteRatio:
		return ClassUnknown
	default:
		return ClassText
	}
}
