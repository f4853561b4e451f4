// Copyright 2025 Poiesic Systems
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


package task

import "errors"

var (
	// ErrStrategyRegistered indicates a second registration for a task type.
	ErrStrategyRegistered = errors.New("strategy already registered for task type")

	// ErrStrategyNotFound indicates no strategy owns the task type.
	ErrStrategyNotFound = errors.New("no strategy registered for task type")

	// ErrTaskExists indicates task creation with an ID that already exists.
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTransition indicates no transition matches the current state
	// and event, or the transition's condition evaluated to false.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAmbiguousTransition indicates a strategy table declaring the same
	// (from, event) pair twice. This is a configuration error.
	ErrAmbiguousTransition = errors.New("ambiguous transition table")

	// ErrUnreachableFinalState indicates a declared state with no path to a
	// final state. This is a configuration error.
	ErrUnreachableFinalState = errors.New("state cannot reach a final state")

	// ErrUnknownState indicates a task whose persisted status is not a member
	// of the owning strategy's declared state set.
	ErrUnknownState = errors.New("unknown task state")
)
