// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Instruction length bounds, counted in characters after trimming.
const (
	MinInstructionChars = 5
	MaxInstructionChars = 1000
)

// Difficulty is the requested level of detail and depth of a guide.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid reports whether d is one of the supported difficulties.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// FormatPreference selects how verbose generated step text should be.
type FormatPreference string

const (
	FormatDetailed FormatPreference = "detailed"
	FormatConcise  FormatPreference = "concise"
)

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("instruction", validateInstruction)
}

// validateInstruction checks the trimmed character count of an instruction.
func validateInstruction(fl validator.FieldLevel) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(fl.Field().String()))
	return n >= MinInstructionChars && n <= MaxInstructionChars
}

// =============================================================================
// Generation Request
// =============================================================================

// GenerationRequest asks for a new guide.
//
// # Validation
//
//   - Instruction: 5..1000 characters after trimming surrounding whitespace
//   - Difficulty: beginner, intermediate or advanced
//   - FormatPreference: detailed or concise; empty means detailed
//   - RequestID: optional, UUID when present
//
// # Example
//
//	req := GenerationRequest{Instruction: "Set up a Python virtual environment", Difficulty: DifficultyBeginner}
//	req.EnsureDefaults()
//	if err := req.Validate(); err != nil { ... }
type GenerationRequest struct {
	RequestID        string           `json:"request_id,omitempty" validate:"omitempty,uuid"`
	Instruction      string           `json:"instruction" validate:"instruction"`
	Difficulty       Difficulty       `json:"difficulty" validate:"required,oneof=beginner intermediate advanced"`
	FormatPreference FormatPreference `json:"format_preference,omitempty" validate:"omitempty,oneof=detailed concise"`
	ReceivedAt       time.Time        `json:"-"`
}

// EnsureDefaults trims the instruction and fills optional fields.
func (r *GenerationRequest) EnsureDefaults() {
	r.Instruction = strings.TrimSpace(r.Instruction)
	r.Difficulty = Difficulty(strings.TrimSpace(string(r.Difficulty)))
	if r.FormatPreference == "" {
		r.FormatPreference = FormatDetailed
	}
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
}

// Validate returns a *Error of KindValidation describing every failing field.
func (r *GenerationRequest) Validate() error {
	err := requestValidate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(err.Error(), nil)
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[jsonFieldName(fe.Field())] = describeFieldError(fe)
	}
	return NewValidationError("invalid generation request", details)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "instruction":
		return "must be between 5 and 1000 characters"
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "uuid":
		return "must be a UUID"
	}
	return "is invalid"
}

func jsonFieldName(field string) string {
	switch field {
	case "RequestID":
		return "request_id"
	case "Instruction":
		return "instruction"
	case "Difficulty":
		return "difficulty"
	case "FormatPreference":
		return "format_preference"
	}
	return strings.ToLower(field)
}
