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

package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// The BPE encoder is a process-wide lazy singleton; construction is
// expensive and the encoding never changes after boot.
var (
	encMu   sync.Mutex
	encName = "cl100k_base"
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

// SetEncoding overrides the BPE encoding name. Must be called before the
// first token count; later calls are ignored.
func SetEncoding(name string) {
	if name == "" {
		return
	}
	encMu.Lock()
	encName = name
	encMu.Unlock()
}

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		encMu.Lock()
		name := encName
		encMu.Unlock()
		enc, encErr = tiktoken.GetEncoding(name)
		if encErr != nil {
			enc, encErr = tiktoken.GetEncoding("cl100k_base")
		}
	})
	return enc, encErr
}

// CountTokens returns the BPE token count of text. When the encoder
// cannot be initialized it falls back to the rough 4-chars-per-token
// estimate so chunking still proceeds.
func CountTokens(text string) int {
	e, err := encoder()
	if err != nil {
		return len(text) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// hardSplit cuts text into pieces of at most maxTokens tokens each,
// used only for degenerate single segments that exceed the chunk budget.
func hardSplit(text string, maxTokens int) []string {
	e, err := encoder()
	if err != nil {
		// Estimate: 4 chars per token.
		var out []string
		step := maxTokens * 4
		for start := 0; start < len(text); start += step {
			end := start + step
			if end > len(text) {
				end = len(text)
			}
			out = append(out, text[start:end])
		}
		return out
	}

	tokens := e.Encode(text, nil, nil)
	var out []string
	for start := 0; start < len(tokens); start += maxTokens {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, e.Decode(tokens[start:end]))
	}
	return out
}
