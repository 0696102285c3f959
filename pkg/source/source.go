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

// Package source defines the closed set of data-source tags used across
// the ingestion and search pipeline.
package source

import "strings"

// Source tags a connector / document origin.
type Source string

const (
	IssueTracker Source = "issue-tracker"
	Chat         Source = "chat"
	Mail         Source = "mail"
	Drive        Source = "drive"
	Wiki         Source = "wiki"
	Calendar     Source = "calendar"
	CodeHost     Source = "code-host"
)

// All returns every known source, in stable order.
func All() []Source {
	return []Source{IssueTracker, Chat, Mail, Drive, Wiki, Calendar, CodeHost}
}

// IsValid reports whether s is one of the known source tags.
func (s Source) IsValid() bool {
	switch s {
	case IssueTracker, Chat, Mail, Drive, Wiki, Calendar, CodeHost:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// aliases maps legacy and vendor-flavored spellings onto canonical tags.
var aliases = map[string]Source{
	"issuetracker":  IssueTracker,
	"issue_tracker": IssueTracker,
	"issues":        IssueTracker,
	"jira":          IssueTracker,
	"slack":         Chat,
	"messages":      Chat,
	"email":         Mail,
	"gmail":         Mail,
	"gdrive":        Drive,
	"docs":          Drive,
	"confluence":    Wiki,
	"pages":         Wiki,
	"cal":           Calendar,
	"events":        Calendar,
	"codehost":      CodeHost,
	"code_host":     CodeHost,
	"github":        CodeHost,
	"repos":         CodeHost,
}

// Canonical normalizes raw into a known source tag.
func Canonical(raw string) (Source, bool) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if s := Source(trimmed); s.IsValid() {
		return s, true
	}
	if s, ok := aliases[trimmed]; ok {
		return s, true
	}
	return "", false
}
