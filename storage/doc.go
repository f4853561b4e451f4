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


// Package storage defines the persistence interfaces used across docsync.
//
// Three concerns live behind these interfaces:
//
//   - TaskStore: durable FSM task records (implemented on BadgerDB)
//   - VectorRepo: vector points with similarity search (implemented on BadgerDB)
//   - DocumentStore: the narrow relational surface the sync pipeline reads
//     and writes (implemented on SQLite)
//
// Concrete backends live in the storage/badger and storage/sqlite
// sub-packages. Callers depend on the interfaces, not the backends.
package storage
