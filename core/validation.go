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


package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultMaxBatchSize is the default number of documents accepted per submission.
const DefaultMaxBatchSize = 20

// ValidateUploadType validates that an UploadType has a known value.
func ValidateUploadType(t UploadType) error {
	if t != UploadTypeEmail && t != UploadTypeUserProject {
		return fmt.Errorf("%w: %q", ErrInvalidUploadType, t)
	}
	return nil
}

// ValidateDocumentInput validates a DocumentInput according to domain rules.
//
// Validation rules:
//   - ID, RunID and Filename must not be empty
//   - Filename must carry a .pdf extension
//   - UploadType must be email or user_project
//
// NOT validated here (checked by the partition step):
//   - the file contents themselves
func ValidateDocumentInput(in DocumentInput) error {
	if in.ID == "" {
		return fmt.Errorf("%w: document id", ErrMissingField)
	}
	if in.RunID == "" {
		return fmt.Errorf("%w: run id for document %s", ErrMissingField, in.ID)
	}
	if in.Filename == "" {
		return fmt.Errorf("%w: filename for document %s", ErrMissingField, in.ID)
	}
	if !strings.EqualFold(filepath.Ext(in.Filename), ".pdf") {
		return fmt.Errorf("%w: %s", ErrUnsupportedFileType, in.Filename)
	}
	if err := ValidateUploadType(in.UploadType); err != nil {
		return err
	}
	return nil
}

// ValidateBatch validates a submission of documents for one run.
func ValidateBatch(runID string, inputs []DocumentInput, maxBatchSize int) error {
	if len(inputs) == 0 {
		return ErrEmptyBatch
	}
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	if len(inputs) > maxBatchSize {
		return fmt.Errorf("%w: %d documents, limit %d", ErrBatchTooLarge, len(inputs), maxBatchSize)
	}

	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if err := ValidateDocumentInput(in); err != nil {
			return err
		}
		if in.RunID != runID {
			return fmt.Errorf("%w: document %s belongs to run %s, not %s", ErrValidation, in.ID, in.RunID, runID)
		}
		if _, dup := seen[in.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateDocument, in.ID)
		}
		seen[in.ID] = struct{}{}
	}
	return nil
}

// ValidateStepResult checks the structural invariants of a StepResult:
// a known status, and an error message present iff the status is failed.
func ValidateStepResult(r StepResult) error {
	if r.Step == "" {
		return fmt.Errorf("%w: step name", ErrMissingField)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, r.Status)
	}
	if r.Status == StatusFailed && r.Error == "" {
		return fmt.Errorf("%w: failed result for %s has no error", ErrValidation, r.Step)
	}
	if r.Status != StatusFailed && r.Error != "" {
		return fmt.Errorf("%w: %s result is %s but carries an error", ErrValidation, r.Step, r.Status)
	}
	return nil
}
