// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"math"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidate *validator.Validate
	structOnce     sync.Once
)

// Validator returns the shared struct validator.
//
// Besides the built-in tags it knows:
//   - ratio: float in the open interval (0, 1)
//   - name: string accepted by ValidateName
func Validator() *validator.Validate {
	structOnce.Do(func() {
		structValidate = validator.New(validator.WithRequiredStructEnabled())
		_ = structValidate.RegisterValidation("ratio", validateRatio)
		_ = structValidate.RegisterValidation("name", validateName)
	})
	return structValidate
}

// Struct validates s against its validate tags.
func Struct(s any) error {
	return Validator().Struct(s)
}

func validateRatio(fl validator.FieldLevel) bool {
	f := fl.Field()
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		v := f.Float()
		return !math.IsNaN(v) && v > 0 && v < 1
	}
	return false
}

func validateName(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return ValidateName(fl.Field().String()) == nil
}
