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


// Package task implements a persistence-backed finite-state-machine framework
// with pluggable per-task-type strategies.
//
// The Engine is the registry: one Strategy per task type. A Strategy declares
// its states and transition table through Base, which provides generic,
// table-driven transition handling: rule lookup by (state, event), condition
// guards, before hooks, persistence, actions and after hooks, plus retry
// bookkeeping for the framework-level RETRY/RETRIES_EXCEEDED events.
//
// Tasks are durable records in a storage.TaskStore. The new status and merged
// context are persisted before a transition's action and after hook run, so
// a failure there leaves the new state in place; strategies therefore keep
// their actions idempotent under re-execution.
//
// The engine runs distinct tasks concurrently in bounded waves, but task
// execution is single-threaded per task: callers must not invoke ExecuteTask
// or TransitionState concurrently for the same task ID.
package task
