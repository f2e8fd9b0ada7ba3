// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package httpsender

import (
	"context"
	"sync"
)

// Fake is a scripted Sender for deterministic tests. Results queues up
// canned responses; once exhausted, DefaultResult is returned for
// every further call.
type Fake struct {
	mu            sync.Mutex
	Results       []Result
	DefaultResult Result
	Requests      []Request
}

// NewFake returns a Fake that delivers every request until scripted
// otherwise.
func NewFake() *Fake {
	return &Fake{DefaultResult: Result{Disposition: Delivered, StatusCode: 200}}
}

func (f *Fake) Send(_ context.Context, req Request) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, req)

	if len(f.Results) == 0 {
		return f.DefaultResult
	}
	r := f.Results[0]
	f.Results = f.Results[1:]
	return r
}

// Calls returns the number of Send invocations observed so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}
