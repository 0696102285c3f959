// Copyright 2025 Recall Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunk splits document content into token-bounded pieces for
// embedding and retrieval. Splitting is deterministic: the same content
// and hint always produce the same chunks.
package chunk

import (
	"path/filepath"
	"strings"
)

// Chunking parameters. ChunkTokens bounds every emitted chunk;
// OverlapTokens bounds the sentence-granular overlap seeded from the
// tail of the previous chunk.
const (
	ChunkTokens          = 512
	OverlapTokens        = 64
	MinTokensForChunking = 600
)

// Hint carries optional chunking context for a document.
type Hint struct {
	// Path enables code-aware splitting by extension.
	Path string

	// PreChunked, when non-empty, is used verbatim after sanitization.
	PreChunked []string
}

// codeExtensions selects the code-aware splitter.
var codeExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true,
	".tsx": true, ".java": true, ".c": true, ".h": true, ".cc": true,
	".cpp": true, ".hpp": true, ".cs": true, ".rb": true, ".rs": true,
	".kt": true, ".swift": true, ".php": true, ".scala": true, ".sh": true,
	".sql": true, ".proto": true,
}

// Chunk splits content into an ordered sequence of non-empty chunks.
//
// Pre-chunked input short-circuits the splitter; short content is
// emitted whole; everything else goes through the sentence (or code)
// splitter with overlap.
func Chunk(content string, hint *Hint) []string {
	if hint != nil && len(hint.PreChunked) > 0 {
		out := make([]string, 0, len(hint.PreChunked))
		for _, c := range hint.PreChunked {
			if s := Sanitize(c); strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	}

	content = Sanitize(content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	if CountTokens(content) <= MinTokensForChunking {
		return []string{content}
	}

	if hint != nil && hint.Path != "" {
		if codeExtensions[strings.ToLower(filepath.Ext(hint.Path))] {
			if chunks := chunkCode(content); len(chunks) > 0 {
				return chunks
			}
		}
	}

	return chunkText(content)
}

// chunkText accumulates sentences greedily up to ChunkTokens, seeding
// each new chunk with the previous chunk's tail sentences up to
// OverlapTokens.
func chunkText(content string) []string {
	sentences := splitSentences(content)
	return assemble(sentences)
}

// chunkCode splits on blank-line-delimited blocks with the same budget
// and overlap. Returns nil when the content has no block structure so
// the caller falls back to the text splitter.
func chunkCode(content string) []string {
	blocks := splitBlocks(content)
	if len(blocks) < 2 {
		return nil
	}
	return assemble(blocks)
}

// assemble packs segments into token-bounded chunks with tail overlap.
func assemble(segments []string) []string {
	var chunks []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.Join(current, "")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, text)
		}

		// Seed the next chunk with tail segments totalling at most
		// OverlapTokens, taken from the end backwards.
		var overlap []string
		overlapTokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			t := CountTokens(current[i])
			if overlapTokens+t > OverlapTokens {
				break
			}
			overlap = append([]string{current[i]}, overlap...)
			overlapTokens += t
		}
		current = overlap
		currentTokens = overlapTokens
	}

	for _, seg := range segments {
		t := CountTokens(seg)

		if t > ChunkTokens {
			// Degenerate segment larger than a whole chunk: flush and
			// hard-split it by token count.
			flush()
			current = nil
			currentTokens = 0
			chunks = append(chunks, hardSplit(seg, ChunkTokens)...)
			continue
		}

		if currentTokens+t > ChunkTokens {
			flush()
			// The overlap alone may already crowd out the segment.
			if currentTokens+t > ChunkTokens {
				current = nil
				currentTokens = 0
			}
		}
		current = append(current, seg)
		currentTokens += t
	}

	if len(current) > 0 {
		text := strings.Join(current, "")
		if strings.TrimSpace(text) != "" {
			chunks = append(chunks, text)
		}
	}

	return chunks
}

// splitSentences cuts content into segments ending in '.', '!', '?', a
// newline run, or end-of-string. Delimiters stay attached to their
// segment so joining reproduces the input.
func splitSentences(content string) []string {
	var segments []string
	runes := []rune(content)
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '.', '!', '?':
			// Consume a trailing run of the same terminators ("...", "?!").
			for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?') {
				i++
			}
			// Attach one following space so joins are lossless.
			if i+1 < len(runes) && runes[i+1] == ' ' {
				i++
			}
			segments = append(segments, string(runes[start:i+1]))
			start = i + 1
		case '\n':
			// Single or double newline both end a segment.
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			segments = append(segments, string(runes[start:i+1]))
			start = i + 1
		}
	}

	if start < len(runes) {
		segments = append(segments, string(runes[start:]))
	}
	return segments
}

// splitBlocks cuts content on blank-line boundaries, keeping the
// separators attached.
func splitBlocks(content string) []string {
	var blocks []string
	lines := strings.SplitAfter(content, "\n")
	var current []string

	for _, line := range lines {
		current = append(current, line)
		if strings.TrimSpace(line) == "" && len(current) > 1 {
			blocks = append(blocks, strings.Join(current, ""))
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, ""))
	}
	return blocks
}
