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


// Package pipeline runs an ordered list of steps over one unit of work.
//
// A unit is a document (indexing) or a wiki run. The Runner is generic over
// the unit's working state S: each Step reads and extends S, and the Runner
// records a StepResult through a Recorder before and after every step so the
// unit's status can always be derived from what is persisted.
//
// On resubmission the Runner restores completed steps from their artifacts and
// re-executes from the first step whose result is missing or failed. Once a
// step executes, every later step executes too.
package pipeline
