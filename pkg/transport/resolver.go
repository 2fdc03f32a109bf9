// Copyright 2025 Kadir Pekel
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

// Package transport derives the ordered list of endpoint candidates for an
// agent and classifies probe failures so the client knows which candidate
// to try next.
package transport

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kadirpekel/agentdial/pkg/config"
	"github.com/kadirpekel/agentdial/pkg/result"
)

// Candidate is one (URL, transport) pair to attempt, in order.
type Candidate struct {
	URL       string
	Transport config.Transport
}

// Attempt records one failed candidate probe.
type Attempt struct {
	URL       string
	Transport config.Transport
	Err       error
}

// ExhaustedError reports that every candidate failed. It carries the full
// attempt history so callers can see what was tried and why.
type ExhaustedError struct {
	AgentID  string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent %q: all %d connection candidates failed", e.AgentID, len(e.Attempts))
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "; [%d] %s (%s): %v", i+1, a.URL, a.Transport, a.Err)
	}
	return b.String()
}

// pathSuffix returns the conventional path suffix for a protocol.
func pathSuffix(p config.Protocol) string {
	if p == config.ProtocolA2A {
		return "/a2a"
	}
	return "/mcp"
}

func transports(p config.Protocol) []config.Transport {
	if p == config.ProtocolA2A {
		return []config.Transport{config.TransportJSONRPC, config.TransportREST}
	}
	return []config.Transport{config.TransportStreamableHTTP, config.TransportSSE}
}

// Resolve computes the ordered candidate list for an agent. The configured
// URL is always first, unmodified, under the preferred transport. A variant
// with the protocol's conventional path suffix appended follows, unless the
// path already ends with it. With an auto transport preference the same URL
// pair repeats under the alternate transport, so the list never exceeds
// four entries. Resolve does no I/O and is recomputed per invocation.
func Resolve(agent config.Agent) ([]Candidate, error) {
	if agent.Transport == config.TransportStdio {
		return []Candidate{{URL: agent.Command, Transport: config.TransportStdio}}, nil
	}

	urls := []string{agent.URL}
	if suffixed, ok := withSuffix(agent.URL, pathSuffix(agent.Protocol)); ok {
		urls = append(urls, suffixed)
	}

	order := transports(agent.Protocol)
	if agent.Transport != "" && agent.Transport != config.TransportAuto {
		order = []config.Transport{agent.Transport}
	}

	candidates := make([]Candidate, 0, len(urls)*len(order))
	for _, tr := range order {
		for _, u := range urls {
			candidates = append(candidates, Candidate{URL: u, Transport: tr})
		}
	}
	if len(candidates) == 0 {
		return nil, result.NewError(result.CodeInvalidConfig, "agent %q has no usable endpoint", agent.ID)
	}
	return candidates, nil
}

// withSuffix appends the suffix to the URL path. Returns false when the
// path already ends with the suffix or the URL cannot be parsed.
func withSuffix(rawURL, suffix string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	trimmed := strings.TrimRight(u.Path, "/")
	if strings.HasSuffix(trimmed, suffix) {
		return "", false
	}
	u.Path = trimmed + suffix
	return u.String(), true
}

// NextIndex decides which candidate follows a failed probe at index i,
// based on the failure class. A not-found class advances to the next
// candidate carrying the same transport (the suffixed URL form). An
// unsupported-media class skips the remaining URL variants of the current
// transport and jumps to the alternate transport's candidate with the same
// URL form. Any other class stops the walk. Returns len(candidates) when
// nothing remains.
func NextIndex(candidates []Candidate, i int, code result.ErrorCode) int {
	current := candidates[i]
	switch code {
	case result.CodeNotFound:
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].Transport == current.Transport {
				return j
			}
		}
		// No same-transport candidate left: fall through to the next
		// transport's first untried candidate.
		return i + 1
	case result.CodeUnsupportedMedia:
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].Transport != current.Transport && candidates[j].URL == current.URL {
				return j
			}
		}
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].Transport != current.Transport {
				return j
			}
		}
		return len(candidates)
	default:
		return len(candidates)
	}
}
