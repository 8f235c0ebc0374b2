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


// Package wiki generates a multi-page wiki from an index run.
//
// A wiki run executes five steps over one index run:
//
//  1. metadata_collection gathers the run's documents and sections
//  2. overview_generation summarizes a sample of top-ranked chunks
//  3. structure_generation proposes pages, each a bundle of queries
//  4. page_content_retrieval runs every page query through retrieval
//  5. markdown_generation writes and exports each page
//
// Every call to RunPipeline creates a new WikiRun. A failed step halts the
// run; pages written before the failure are kept. Resume continues a failed
// run from its first unsatisfied step using the persisted step outputs.
package wiki
