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


// Package retrieval answers questions against an index run.
//
// The Service embeds a query and ranks the run's chunks by cosine
// similarity:
//   - the query is re-embedded on every call
//   - matches below the similarity threshold are dropped
//   - ties in score keep chunk insertion order
//
// The Answerer builds on the Service: it retrieves the top matches for a
// question and asks the query model for an answer grounded in them.
package retrieval
