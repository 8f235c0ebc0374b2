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


package ai

import (
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/plansight/core"
)

// DefaultTimeout bounds a model call when the request sets none.
const DefaultTimeout = 30 * time.Second

var (
	// ErrEmptyResponse indicates that a model returned no usable content.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrNoModel indicates a request without a model.
	ErrNoModel = errors.New("no model specified")

	// ErrUnsupportedAttachment indicates an attachment type the model API cannot take.
	ErrUnsupportedAttachment = fmt.Errorf("%w: unsupported attachment type", core.ErrValidation)
)

// Attachment MIME types produced by page extraction.
const (
	MIMETypePDF  = "application/pdf"
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
)

// Attachment is binary input for multimodal models. Either URI or Data is set.
type Attachment struct {
	MIMEType string
	URI      string
	Data     []byte
}

// GenerateRequest describes one generation call.
type GenerateRequest struct {
	// Model is the primary model. Providers substitute their default when empty.
	Model string

	// FallbackModels are tried in order when Model fails.
	FallbackModels []string

	// System is the system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// Attachments are sent alongside the prompt.
	Attachments []Attachment

	// Temperature is always sent, so zero requests deterministic output.
	Temperature float64
	MaxTokens   int

	// JSON requests a JSON object response.
	JSON bool

	// Timeout bounds each model call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// GenerateResponse is the result of a generation call.
type GenerateResponse struct {
	Text string

	// Model is the model that produced Text.
	Model string
}
