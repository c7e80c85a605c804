// SPDX-License-Identifier: MPL-2.0

package types

import (
	"errors"
	"testing"
)

func TestExitCodeValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		value     ExitCode
		wantValid bool
	}{
		{name: "zero is valid", value: ExitOK, wantValid: true},
		{name: "user error is valid", value: ExitUserError, wantValid: true},
		{name: "command not found is valid", value: ExitCommandNotFound, wantValid: true},
		{name: "255 is valid", value: 255, wantValid: true},
		{name: "negative is invalid", value: -1, wantValid: false},
		{name: "256 is invalid", value: 256, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.value.Validate()
			if tt.wantValid {
				if err != nil {
					t.Errorf("ExitCode(%d).Validate() returned error for valid value: %v", tt.value, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ExitCode(%d).Validate() returned nil, want error", tt.value)
			}
			if !errors.Is(err, ErrInvalidExitCode) {
				t.Errorf("error should wrap ErrInvalidExitCode, got: %v", err)
			}
		})
	}
}

func TestExitCode_IsSuccess(t *testing.T) {
	t.Parallel()

	if !ExitOK.IsSuccess() {
		t.Error("ExitOK.IsSuccess() = false, want true")
	}
	if ExitUnexpected.IsSuccess() {
		t.Error("ExitUnexpected.IsSuccess() = true, want false")
	}
	if got := ExitCommandNotFound.String(); got != "127" {
		t.Errorf("String() = %q, want %q", got, "127")
	}
}
