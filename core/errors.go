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
	"errors"
	"fmt"
)

// Error taxonomy. Callers test with errors.Is.
var (
	// ErrValidation indicates bad input shape. Surfaced synchronously, never retried.
	ErrValidation = errors.New("validation error")

	// ErrExternalService indicates a provider or storage call failed.
	ErrExternalService = errors.New("external service error")

	// ErrConfiguration indicates missing or inconsistent settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound indicates a referenced run or document does not exist.
	ErrNotFound = errors.New("not found")
)

// Domain validation errors
var (
	// ErrUnsupportedFileType indicates a document that is not a PDF.
	ErrUnsupportedFileType = fmt.Errorf("%w: unsupported file type", ErrValidation)

	// ErrBatchTooLarge indicates more documents than a run accepts at once.
	ErrBatchTooLarge = fmt.Errorf("%w: batch too large", ErrValidation)

	// ErrEmptyBatch indicates a submission with no documents.
	ErrEmptyBatch = fmt.Errorf("%w: batch is empty", ErrValidation)

	// ErrInvalidUploadType indicates an unknown upload-type tag.
	ErrInvalidUploadType = fmt.Errorf("%w: invalid upload type", ErrValidation)

	// ErrMissingField indicates a required input field is empty.
	ErrMissingField = fmt.Errorf("%w: missing field", ErrValidation)

	// ErrDuplicateDocument indicates the same document id twice in one batch.
	ErrDuplicateDocument = fmt.Errorf("%w: duplicate document", ErrValidation)

	// ErrResultFinalized indicates an attempt to overwrite a terminal step result
	// without starting a new attempt.
	ErrResultFinalized = errors.New("step result already finalized")
)

// StepError wraps a failure with the step that produced it.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with step context. A nil err returns nil.
func NewStepError(step StepName, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// ExternalServiceError marks err as a failure of the named external service.
func ExternalServiceError(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalService, service, err)
}

// ConfigurationError builds an ErrConfiguration with a formatted message.
func ConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// NotFoundError builds an ErrNotFound naming the missing entity.
func NotFoundError(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}
