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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/plansight/core"
)

// CallFunc performs one model call.
type CallFunc func(ctx context.Context, model string) (string, error)

// GenerateWithFallback invokes call for req.Model (or defaultModel) and then
// each fallback model until one returns non-empty text. Every call gets its
// own deadline of req.Timeout, and a timeout counts as that model's failure.
// When all models fail the joined errors are returned as an external service
// error, which fails the calling step.
func GenerateWithFallback(ctx context.Context, logger *slog.Logger, req GenerateRequest, defaultModel string, call CallFunc) (*GenerateResponse, error) {
	models := CandidateModels(req, defaultModel)
	if len(models) == 0 {
		return nil, core.ConfigurationError("%v", ErrNoModel)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var errs []error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		text, err := call(callCtx, model)
		cancel()
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			return &GenerateResponse{Text: text, Model: model}, nil
		}

		logger.Warn("model call failed", "model", model, "timeout", timeout, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", model, err))
	}
	return nil, core.ExternalServiceError("llm", errors.Join(errs...))
}

// CandidateModels returns the primary model followed by the fallbacks,
// without blanks or duplicates.
func CandidateModels(req GenerateRequest, defaultModel string) []string {
	primary := req.Model
	if primary == "" {
		primary = defaultModel
	}
	seen := make(map[string]bool)
	var models []string
	for _, m := range append([]string{primary}, req.FallbackModels...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}
